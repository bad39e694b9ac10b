package view

import (
	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
)

// BufferKind discriminates buffer flavours.
type BufferKind uint32

const (
	KindExclusive BufferKind = 0
	KindShared    BufferKind = 1
	KindOther     BufferKind = 2
)

// Buffer is a byte store that views are built on.
type Buffer interface {
	// ByteLength is the length the buffer had when it was created or derived.
	ByteLength() int
	// Bytes returns the live backing bytes. It fails once the buffer is detached.
	Bytes() ([]byte, error)
	Kind() BufferKind
}

// ArrayBuffer is a host-owned, non-shared buffer.
type ArrayBuffer struct {
	data []byte
}

// NewArrayBuffer allocates a zeroed buffer of n bytes.
func NewArrayBuffer(n int) *ArrayBuffer {
	return &ArrayBuffer{data: make([]byte, n)}
}

// ArrayBufferOf wraps b without copying.
func ArrayBufferOf(b []byte) *ArrayBuffer {
	return &ArrayBuffer{data: b}
}

func (b *ArrayBuffer) ByteLength() int        { return len(b.data) }
func (b *ArrayBuffer) Bytes() ([]byte, error) { return b.data, nil }
func (b *ArrayBuffer) Kind() BufferKind       { return KindExclusive }

// SharedArrayBuffer is a host buffer that may be shared between instances.
type SharedArrayBuffer struct {
	data []byte
}

// NewSharedArrayBuffer allocates a zeroed shared buffer of n bytes.
func NewSharedArrayBuffer(n int) *SharedArrayBuffer {
	return &SharedArrayBuffer{data: make([]byte, n)}
}

func (b *SharedArrayBuffer) ByteLength() int        { return len(b.data) }
func (b *SharedArrayBuffer) Bytes() ([]byte, error) { return b.data, nil }
func (b *SharedArrayBuffer) Kind() BufferKind       { return KindShared }

// MemoryBuffer is a non-owning window onto guest linear memory.
type MemoryBuffer struct {
	mem    wasmbridge.Memory
	size   uint32
	shared bool
}

// NewMemoryBuffer derives a buffer over the current extent of mem.
func NewMemoryBuffer(mem wasmbridge.Memory, shared bool) *MemoryBuffer {
	return &MemoryBuffer{mem: mem, size: mem.Size(), shared: shared}
}

func (b *MemoryBuffer) ByteLength() int { return int(b.size) }

// Detached reports whether guest memory changed size since derivation.
func (b *MemoryBuffer) Detached() bool {
	return b.mem.Size() != b.size
}

func (b *MemoryBuffer) Bytes() ([]byte, error) {
	if b.Detached() {
		return nil, errors.Detached(errors.PhaseView, "guest memory grew since the buffer was derived")
	}
	if b.size == 0 {
		return nil, nil
	}
	return b.mem.Read(0, b.size)
}

func (b *MemoryBuffer) Kind() BufferKind {
	if b.shared {
		return KindShared
	}
	return KindExclusive
}

// KindOf returns the buffer discriminator for any value; non-buffers are KindOther.
func KindOf(v any) BufferKind {
	if b, ok := v.(Buffer); ok {
		return b.Kind()
	}
	return KindOther
}

// checkRange validates [off, off+n) against size without overflow.
func checkRange(off, n, size int) error {
	if off < 0 || n < 0 || uint64(off)+uint64(n) > uint64(size) {
		return errors.Range(errors.PhaseView, uint64(max(off, 0)), uint64(max(n, 0)), uint64(size))
	}
	return nil
}

// window returns the live bytes [off, off+n) of buf.
func window(buf Buffer, off, n int) ([]byte, error) {
	data, err := buf.Bytes()
	if err != nil {
		return nil, err
	}
	if err := checkRange(off, n, len(data)); err != nil {
		return nil, err
	}
	return data[off : off+n], nil
}
