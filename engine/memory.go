package engine

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/errors"
)

// WazeroMemory adapts wazero memory to wasmbridge.Memory. Out of bounds
// access reports a range error carrying the current size.
type WazeroMemory struct {
	mem api.Memory
}

// NewMemory adapts mem. It returns nil when mem is nil.
func NewMemory(mem api.Memory) *WazeroMemory {
	if mem == nil {
		return nil
	}
	return &WazeroMemory{mem: mem}
}

// Read returns a view of guest memory; writes through it are visible to
// the guest until the memory grows.
func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.rangeError(offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	ok := m.mem.Write(offset, data)
	if !ok {
		return m.rangeError(offset, uint32(len(data)))
	}
	return nil
}

func (m *WazeroMemory) rangeError(offset, length uint32) error {
	return errors.Range(errors.PhaseRuntime, uint64(offset), uint64(length), uint64(m.mem.Size()))
}

func (m *WazeroMemory) Size() uint32 {
	return m.mem.Size()
}
