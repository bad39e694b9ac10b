package view

import (
	"encoding/binary"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
)

// guestBytes returns a copy-safe window [ptr, ptr+n) of guest memory.
func guestBytes(mem wasmbridge.Memory, ptr uint32, n int) ([]byte, error) {
	if n < 0 || uint64(ptr)+uint64(n) > uint64(mem.Size()) {
		return nil, errors.Range(errors.PhaseView, uint64(ptr), uint64(max(n, 0)), uint64(mem.Size()))
	}
	if n == 0 {
		return nil, nil
	}
	return mem.Read(ptr, uint32(n))
}

// ReadGuest copies n elements of T stored little-endian at ptr in guest memory.
func ReadGuest[T Element](mem wasmbridge.Memory, ptr uint32, n int) ([]T, error) {
	size := LaneOf[T]().Size()
	if n < 0 || uint64(n)*uint64(size) > uint64(mem.Size()) {
		return nil, errors.Range(errors.PhaseView, uint64(ptr), uint64(max(n, 0))*uint64(size), uint64(mem.Size()))
	}
	b, err := guestBytes(mem, ptr, n*size)
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	for i := range out {
		out[i] = load[T](b[i*size:], binary.LittleEndian)
	}
	return out, nil
}

// WriteGuest stores values little-endian at ptr in guest memory.
func WriteGuest[T Element](mem wasmbridge.Memory, ptr uint32, values []T) error {
	size := LaneOf[T]().Size()
	if uint64(ptr)+uint64(len(values))*uint64(size) > uint64(mem.Size()) {
		return errors.Range(errors.PhaseView, uint64(ptr), uint64(len(values))*uint64(size), uint64(mem.Size()))
	}
	b := make([]byte, len(values)*size)
	for i, v := range values {
		store(b[i*size:], v, binary.LittleEndian)
	}
	return mem.Write(ptr, b)
}

// CopyFromGuest copies n elements from guest memory at ptr into dst[dstIndex:].
// The guest side is read with dst's lane.
func CopyFromGuest(dst View, dstIndex int, mem wasmbridge.Memory, ptr uint32, n int) error {
	if err := checkRange(dstIndex, n, dst.Len()); err != nil {
		return err
	}
	size := dst.Lane().Size()
	src, err := guestBytes(mem, ptr, n*size)
	if err != nil {
		return err
	}
	db, err := window(dst.Buffer(), dst.ByteOffset()+dstIndex*size, n*size)
	if err != nil {
		return err
	}
	copy(db, src)
	return nil
}

// CopyToGuest copies n elements of src[srcIndex:] into guest memory at ptr.
func CopyToGuest(mem wasmbridge.Memory, ptr uint32, src View, srcIndex, n int) error {
	if err := checkRange(srcIndex, n, src.Len()); err != nil {
		return err
	}
	size := src.Lane().Size()
	if uint64(ptr)+uint64(n*size) > uint64(mem.Size()) {
		return errors.Range(errors.PhaseView, uint64(ptr), uint64(n*size), uint64(mem.Size()))
	}
	sb, err := window(src.Buffer(), src.ByteOffset()+srcIndex*size, n*size)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	// copy first: src may itself be a window onto the same guest memory
	return mem.Write(ptr, append([]byte(nil), sb...))
}
