package wasmbridge

// Memory is guest linear memory as seen from the host. Offsets are byte
// addresses; every accessor fails with a range error instead of reading
// past Size. Slices returned by Read alias the memory until it grows.
type Memory interface {
	Size() uint32
	Read(offset, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
}
