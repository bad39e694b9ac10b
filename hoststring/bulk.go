package hoststring

import (
	"github.com/wippyai/wasm-bridge/errors"
)

// ChunkSize is the number of code units read per step on the bulk path.
const ChunkSize = 500

// CodeUnitReader reads code units from a guest array.
// ReadUnits fills dst with the units starting at index off.
type CodeUnitReader interface {
	ReadUnits(dst []uint16, off int) error
}

// CodeUnitWriter writes code units into a guest array starting at index off.
type CodeUnitWriter interface {
	WriteUnits(off int, src []uint16) error
}

// Units is an in-memory code unit array usable as reader and writer.
type Units []uint16

func (u Units) ReadUnits(dst []uint16, off int) error {
	if off < 0 || off+len(dst) > len(u) {
		return errors.Range(errors.PhaseString, uint64(max(off, 0)), uint64(len(dst)), uint64(len(u)))
	}
	copy(dst, u[off:])
	return nil
}

func (u Units) WriteUnits(off int, src []uint16) error {
	if off < 0 || off+len(src) > len(u) {
		return errors.Range(errors.PhaseString, uint64(max(off, 0)), uint64(len(src)), uint64(len(u)))
	}
	copy(u[off:], src)
	return nil
}

// FromCodeUnits builds a string from units [start, end) of r, reading at most
// ChunkSize units per call. Returns the empty string when end <= start.
func FromCodeUnits(r CodeUnitReader, start, end int) (String, error) {
	if end <= start {
		return Empty, nil
	}
	if start < 0 {
		return Empty, errors.OutOfBounds(errors.PhaseString, []string{"fromCharCodeArray"}, start, end)
	}
	out := make([]uint16, 0, end-start)
	buf := make([]uint16, min(ChunkSize, end-start))
	for i := start; i < end; i += ChunkSize {
		chunk := buf[:min(ChunkSize, end-i)]
		if err := r.ReadUnits(chunk, i); err != nil {
			return Empty, err
		}
		out = append(out, chunk...)
	}
	return fromOwned(out), nil
}

// IntoCodeUnits writes every unit of s into w starting at index start and
// returns the number of units written.
func IntoCodeUnits(s String, w CodeUnitWriter, start int) (int, error) {
	n := s.Len()
	for i := 0; i < n; i += ChunkSize {
		end := min(i+ChunkSize, n)
		if err := w.WriteUnits(start+i, s.units[i:end]); err != nil {
			return 0, err
		}
	}
	return n, nil
}
