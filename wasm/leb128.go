package wasm

import (
	"errors"
	"io"
)

// ErrOverflow is returned when an encoded integer does not fit its width
// or carries set bits past it.
var ErrOverflow = errors.New("leb128: overflow")

// readVarint decodes one LEB128 integer of the given bit width. The final
// byte may only carry bits that fit the width; for signed values the unused
// bits must repeat the sign.
func readVarint(r io.ByteReader, bits uint, signed bool) (uint64, error) {
	var (
		result uint64
		shift  uint
	)
	maxBytes := (bits + 6) / 7
	for n := uint(1); ; n++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && n > 1 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if n == maxBytes {
			if b&0x80 != 0 {
				return 0, ErrOverflow
			}
			rest := bits - shift
			if !lastByteFits(b, rest, signed) {
				return 0, ErrOverflow
			}
		}
		result |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if signed && shift < 64 && b&0x40 != 0 {
				result |= ^uint64(0) << shift
			}
			return result, nil
		}
	}
}

// lastByteFits checks the padding bits of the final byte, which holds rest
// significant bits.
func lastByteFits(b byte, rest uint, signed bool) bool {
	if rest >= 7 {
		return true
	}
	pad := byte(0x7f) &^ (byte(1)<<rest - 1)
	if !signed {
		return b&pad == 0
	}
	// Sign bit is the highest significant bit.
	sign := b & (1 << (rest - 1))
	if sign == 0 {
		return b&pad == 0
	}
	return b&pad == pad
}

// ReadLEB128u reads an unsigned 32-bit value.
func ReadLEB128u(r io.ByteReader) (uint32, error) {
	v, err := readVarint(r, 32, false)
	return uint32(v), err
}

// ReadLEB128u64 reads an unsigned 64-bit value.
func ReadLEB128u64(r io.ByteReader) (uint64, error) {
	return readVarint(r, 64, false)
}

// ReadLEB128s reads a signed 32-bit value.
func ReadLEB128s(r io.ByteReader) (int32, error) {
	v, err := readVarint(r, 32, true)
	return int32(v), err
}

// ReadLEB128s64 reads a signed 64-bit value.
func ReadLEB128s64(r io.ByteReader) (int64, error) {
	v, err := readVarint(r, 64, true)
	return int64(v), err
}

// AppendU64 appends the unsigned encoding of v to dst.
func AppendU64(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendS64 appends the signed encoding of v to dst.
func AppendS64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// WriteLEB128u writes the unsigned encoding of v.
func WriteLEB128u(w io.Writer, v uint32) {
	var buf [5]byte
	_, _ = w.Write(AppendU64(buf[:0], uint64(v)))
}

// WriteLEB128u64 writes the unsigned encoding of v.
func WriteLEB128u64(w io.Writer, v uint64) {
	var buf [10]byte
	_, _ = w.Write(AppendU64(buf[:0], v))
}

// WriteLEB128s writes the signed encoding of v.
func WriteLEB128s(w io.Writer, v int32) {
	var buf [5]byte
	_, _ = w.Write(AppendS64(buf[:0], int64(v)))
}

// WriteLEB128s64 writes the signed encoding of v.
func WriteLEB128s64(w io.Writer, v int64) {
	var buf [10]byte
	_, _ = w.Write(AppendS64(buf[:0], v))
}
