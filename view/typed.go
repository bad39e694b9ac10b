package view

import (
	"encoding/binary"

	"github.com/wippyai/wasm-bridge/errors"
)

// View is the lane-erased surface shared by every TypedArray.
type View interface {
	Lane() Lane
	Len() int
	ByteOffset() int
	ByteLength() int
	Buffer() Buffer
	// Float reads element i as a number.
	Float(i int) (float64, error)
	// SetFloat stores f at element i with the lane's conversion rules.
	SetFloat(i int, f float64) error
	// Slice returns a view over elements [start, start+length) sharing the buffer.
	Slice(start, length int) (View, error)
}

// TypedArray is a window of T elements onto a buffer.
type TypedArray[T Element] struct {
	buf        Buffer
	byteOffset int
	length     int
}

// New builds a view of length elements starting byteOffset bytes into buf.
// No data is copied.
func New[T Element](buf Buffer, byteOffset, length int) (*TypedArray[T], error) {
	size := LaneOf[T]().Size()
	if byteOffset < 0 || length < 0 {
		return nil, errors.Range(errors.PhaseView, uint64(max(byteOffset, 0)), uint64(max(length, 0)), uint64(buf.ByteLength()))
	}
	if byteOffset%size != 0 {
		return nil, errors.New(errors.PhaseView, errors.KindRange).
			Path(LaneOf[T]().String()).
			Detail("start offset %d is not a multiple of %d", byteOffset, size).
			Build()
	}
	n := uint64(buf.ByteLength())
	if uint64(byteOffset) > n || uint64(length) > (n-uint64(byteOffset))/uint64(size) {
		return nil, errors.Range(errors.PhaseView, uint64(byteOffset), uint64(length)*uint64(size), uint64(buf.ByteLength()))
	}
	return &TypedArray[T]{buf: buf, byteOffset: byteOffset, length: length}, nil
}

// Alloc returns a zeroed array of n elements over a fresh ArrayBuffer.
func Alloc[T Element](n int) *TypedArray[T] {
	return &TypedArray[T]{buf: NewArrayBuffer(n * LaneOf[T]().Size()), length: n}
}

// Of returns a fresh array holding a copy of values.
func Of[T Element](values ...T) *TypedArray[T] {
	a := Alloc[T](len(values))
	b, _ := a.bytes()
	for i, v := range values {
		store(b[i*a.size():], v, binary.LittleEndian)
	}
	return a
}

func (a *TypedArray[T]) size() int { return LaneOf[T]().Size() }

func (a *TypedArray[T]) Lane() Lane      { return LaneOf[T]() }
func (a *TypedArray[T]) Len() int        { return a.length }
func (a *TypedArray[T]) ByteOffset() int { return a.byteOffset }
func (a *TypedArray[T]) ByteLength() int { return a.length * a.size() }
func (a *TypedArray[T]) Buffer() Buffer  { return a.buf }

func (a *TypedArray[T]) bytes() ([]byte, error) {
	return window(a.buf, a.byteOffset, a.ByteLength())
}

// At returns element i.
func (a *TypedArray[T]) At(i int) (T, error) {
	if i < 0 || i >= a.length {
		return 0, errors.OutOfBounds(errors.PhaseView, []string{a.Lane().String()}, i, a.length)
	}
	b, err := a.bytes()
	if err != nil {
		return 0, err
	}
	return load[T](b[i*a.size():], binary.LittleEndian), nil
}

// SetAt stores v at element i.
func (a *TypedArray[T]) SetAt(i int, v T) error {
	if i < 0 || i >= a.length {
		return errors.OutOfBounds(errors.PhaseView, []string{a.Lane().String()}, i, a.length)
	}
	b, err := a.bytes()
	if err != nil {
		return err
	}
	store(b[i*a.size():], v, binary.LittleEndian)
	return nil
}

func (a *TypedArray[T]) Float(i int) (float64, error) {
	v, err := a.At(i)
	return float64(v), err
}

func (a *TypedArray[T]) SetFloat(i int, f float64) error {
	return a.SetAt(i, fromFloat[T](f))
}

// Values returns a copy of all elements.
func (a *TypedArray[T]) Values() ([]T, error) {
	b, err := a.bytes()
	if err != nil {
		return nil, err
	}
	out := make([]T, a.length)
	for i := range out {
		out[i] = load[T](b[i*a.size():], binary.LittleEndian)
	}
	return out, nil
}

// Set writes values starting at element offset.
func (a *TypedArray[T]) Set(values []T, offset int) error {
	if err := checkRange(offset, len(values), a.length); err != nil {
		return err
	}
	b, err := a.bytes()
	if err != nil {
		return err
	}
	for i, v := range values {
		store(b[(offset+i)*a.size():], v, binary.LittleEndian)
	}
	return nil
}

// Subview returns elements [start, start+length) over the same buffer.
func (a *TypedArray[T]) Subview(start, length int) (*TypedArray[T], error) {
	if err := checkRange(start, length, a.length); err != nil {
		return nil, err
	}
	return New[T](a.buf, a.byteOffset+start*a.size(), length)
}

func (a *TypedArray[T]) Slice(start, length int) (View, error) {
	return a.Subview(start, length)
}

// Copy moves n elements from src[srcIndex:] to dst[dstIndex:]. Overlapping
// windows over the same buffer are handled like memmove.
func Copy[T Element](dst *TypedArray[T], dstIndex int, src *TypedArray[T], srcIndex, n int) error {
	if err := checkRange(dstIndex, n, dst.length); err != nil {
		return err
	}
	if err := checkRange(srcIndex, n, src.length); err != nil {
		return err
	}
	size := dst.size()
	db, err := dst.bytes()
	if err != nil {
		return err
	}
	sb, err := src.bytes()
	if err != nil {
		return err
	}
	copy(db[dstIndex*size:(dstIndex+n)*size], sb[srcIndex*size:(srcIndex+n)*size])
	return nil
}

// SetFrom copies every element of src into dst starting at element offset,
// converting through numbers when the lanes differ.
func SetFrom(dst, src View, offset int) error {
	if err := checkRange(offset, src.Len(), dst.Len()); err != nil {
		return err
	}
	if dst.Lane() == src.Lane() {
		n := src.ByteLength()
		sb, err := window(src.Buffer(), src.ByteOffset(), n)
		if err != nil {
			return err
		}
		db, err := window(dst.Buffer(), dst.ByteOffset()+offset*dst.Lane().Size(), n)
		if err != nil {
			return err
		}
		copy(db, sb)
		return nil
	}
	// read everything first so overlapping buffers see the original values
	vals := make([]float64, src.Len())
	for i := range vals {
		f, err := src.Float(i)
		if err != nil {
			return err
		}
		vals[i] = f
	}
	for i, f := range vals {
		if err := dst.SetFloat(offset+i, f); err != nil {
			return err
		}
	}
	return nil
}

// NewView is New with the lane chosen at runtime.
func NewView(lane Lane, buf Buffer, byteOffset, length int) (View, error) {
	switch lane {
	case LaneInt8:
		return New[int8](buf, byteOffset, length)
	case LaneUint8:
		return New[uint8](buf, byteOffset, length)
	case LaneUint8Clamped:
		return New[Clamped](buf, byteOffset, length)
	case LaneInt16:
		return New[int16](buf, byteOffset, length)
	case LaneUint16:
		return New[uint16](buf, byteOffset, length)
	case LaneInt32:
		return New[int32](buf, byteOffset, length)
	case LaneUint32:
		return New[uint32](buf, byteOffset, length)
	case LaneInt64:
		return New[int64](buf, byteOffset, length)
	case LaneFloat32:
		return New[float32](buf, byteOffset, length)
	case LaneFloat64:
		return New[float64](buf, byteOffset, length)
	}
	return nil, errors.InvalidInput(errors.PhaseView, "unknown lane "+lane.String())
}

// AllocView is Alloc with the lane chosen at runtime.
func AllocView(lane Lane, n int) (View, error) {
	if n < 0 {
		return nil, errors.Range(errors.PhaseView, 0, uint64(0), 0)
	}
	return NewView(lane, NewArrayBuffer(n*lane.Size()), 0, n)
}

// CopyElements moves n elements between two views of the same lane.
func CopyElements(dst View, dstIndex int, src View, srcIndex, n int) error {
	if dst.Lane() != src.Lane() {
		return errors.InvalidInput(errors.PhaseView, "lane mismatch: "+dst.Lane().String()+" vs "+src.Lane().String())
	}
	if err := checkRange(dstIndex, n, dst.Len()); err != nil {
		return err
	}
	if err := checkRange(srcIndex, n, src.Len()); err != nil {
		return err
	}
	size := dst.Lane().Size()
	sb, err := window(src.Buffer(), src.ByteOffset()+srcIndex*size, n*size)
	if err != nil {
		return err
	}
	db, err := window(dst.Buffer(), dst.ByteOffset()+dstIndex*size, n*size)
	if err != nil {
		return err
	}
	copy(db, sb)
	return nil
}
