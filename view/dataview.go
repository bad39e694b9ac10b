package view

import (
	"encoding/binary"

	"github.com/wippyai/wasm-bridge/errors"
)

// DataView reads and writes mixed-width values at byte offsets of a buffer.
type DataView struct {
	buf        Buffer
	byteOffset int
	byteLength int
}

// NewDataView builds a view over [byteOffset, byteOffset+byteLength) of buf.
func NewDataView(buf Buffer, byteOffset, byteLength int) (*DataView, error) {
	if err := checkRange(byteOffset, byteLength, buf.ByteLength()); err != nil {
		return nil, err
	}
	return &DataView{buf: buf, byteOffset: byteOffset, byteLength: byteLength}, nil
}

func (d *DataView) Buffer() Buffer  { return d.buf }
func (d *DataView) ByteOffset() int { return d.byteOffset }
func (d *DataView) ByteLength() int { return d.byteLength }

func (d *DataView) at(off, size int) ([]byte, error) {
	if err := checkRange(off, size, d.byteLength); err != nil {
		return nil, err
	}
	return window(d.buf, d.byteOffset+off, size)
}

func byteOrder(little bool) binary.ByteOrder {
	if little {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Get reads a T at byte offset off.
func Get[T Element](d *DataView, off int, little bool) (T, error) {
	b, err := d.at(off, LaneOf[T]().Size())
	if err != nil {
		return 0, err
	}
	return load[T](b, byteOrder(little)), nil
}

// Put writes v at byte offset off.
func Put[T Element](d *DataView, off int, v T, little bool) error {
	b, err := d.at(off, LaneOf[T]().Size())
	if err != nil {
		return err
	}
	store(b, v, byteOrder(little))
	return nil
}

// GetFloat reads a lane value at off as a number.
func (d *DataView) GetFloat(lane Lane, off int, little bool) (float64, error) {
	switch lane {
	case LaneInt8:
		v, err := Get[int8](d, off, little)
		return float64(v), err
	case LaneUint8, LaneUint8Clamped:
		v, err := Get[uint8](d, off, little)
		return float64(v), err
	case LaneInt16:
		v, err := Get[int16](d, off, little)
		return float64(v), err
	case LaneUint16:
		v, err := Get[uint16](d, off, little)
		return float64(v), err
	case LaneInt32:
		v, err := Get[int32](d, off, little)
		return float64(v), err
	case LaneUint32:
		v, err := Get[uint32](d, off, little)
		return float64(v), err
	case LaneInt64:
		v, err := Get[int64](d, off, little)
		return float64(v), err
	case LaneFloat32:
		v, err := Get[float32](d, off, little)
		return float64(v), err
	case LaneFloat64:
		return Get[float64](d, off, little)
	}
	return 0, errors.InvalidInput(errors.PhaseView, "unknown lane")
}

// SetFloat stores f at off using the lane's conversion rules.
func (d *DataView) SetFloat(lane Lane, off int, f float64, little bool) error {
	switch lane {
	case LaneInt8:
		return Put(d, off, fromFloat[int8](f), little)
	case LaneUint8:
		return Put(d, off, fromFloat[uint8](f), little)
	case LaneUint8Clamped:
		return Put(d, off, fromFloat[Clamped](f), little)
	case LaneInt16:
		return Put(d, off, fromFloat[int16](f), little)
	case LaneUint16:
		return Put(d, off, fromFloat[uint16](f), little)
	case LaneInt32:
		return Put(d, off, fromFloat[int32](f), little)
	case LaneUint32:
		return Put(d, off, fromFloat[uint32](f), little)
	case LaneInt64:
		return Put(d, off, fromFloat[int64](f), little)
	case LaneFloat32:
		return Put(d, off, float32(f), little)
	case LaneFloat64:
		return Put(d, off, f, little)
	}
	return errors.InvalidInput(errors.PhaseView, "unknown lane")
}

// SliceCopy copies byteLength bytes at byteOffset of buf into a new ArrayBuffer
// and returns a DataView over the copy. The result never aliases buf.
func SliceCopy(buf Buffer, byteOffset, byteLength int) (*DataView, error) {
	src, err := window(buf, byteOffset, byteLength)
	if err != nil {
		return nil, err
	}
	dst := NewArrayBuffer(byteLength)
	copy(dst.data, src)
	return &DataView{buf: dst, byteLength: byteLength}, nil
}
