// Package view provides typed arrays, DataView and buffers over host memory or a
// guest's linear memory.
//
// Constructing a view never copies: New[T](buf, byteOffset, length) is a window
// onto buf and fails with a range error when byteOffset + length*size(T) exceeds
// the buffer. SliceCopy is the one primitive that always copies, into a fresh
// ArrayBuffer, so callers can hold data past the next guest call.
//
// A MemoryBuffer is stamped with the guest memory size when it is derived. Memory
// growth detaches it and every view built on it; accesses then fail with a
// detached error (a range error) rather than reading a stale backing slice.
package view
