package view

import (
	"encoding/binary"
	"math"
)

// Lane identifies a typed array element type.
type Lane int

const (
	LaneInt8 Lane = iota
	LaneUint8
	LaneUint8Clamped
	LaneInt16
	LaneUint16
	LaneInt32
	LaneUint32
	LaneInt64
	LaneFloat32
	LaneFloat64
)

// Lanes lists every lane in declaration order.
var Lanes = []Lane{
	LaneInt8, LaneUint8, LaneUint8Clamped, LaneInt16, LaneUint16,
	LaneInt32, LaneUint32, LaneInt64, LaneFloat32, LaneFloat64,
}

var laneNames = [...]string{
	LaneInt8:         "int8",
	LaneUint8:        "uint8",
	LaneUint8Clamped: "uint8-clamped",
	LaneInt16:        "int16",
	LaneUint16:       "uint16",
	LaneInt32:        "int32",
	LaneUint32:       "uint32",
	LaneInt64:        "int64",
	LaneFloat32:      "float32",
	LaneFloat64:      "float64",
}

func (l Lane) String() string {
	if l < 0 || int(l) >= len(laneNames) {
		return "unknown"
	}
	return laneNames[l]
}

// Size returns the element size in bytes.
func (l Lane) Size() int {
	switch l {
	case LaneInt8, LaneUint8, LaneUint8Clamped:
		return 1
	case LaneInt16, LaneUint16:
		return 2
	case LaneInt32, LaneUint32, LaneFloat32:
		return 4
	case LaneInt64, LaneFloat64:
		return 8
	}
	return 0
}

// Clamped is a uint8 element that saturates on store.
type Clamped uint8

// ClampFloat converts f the way a clamped byte array stores numbers:
// saturate to [0, 255] and round half to even.
func ClampFloat(f float64) Clamped {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= 255:
		return 255
	}
	return Clamped(math.RoundToEven(f))
}

// Element is the set of typed array element types.
type Element interface {
	int8 | uint8 | Clamped | int16 | uint16 | int32 | uint32 | int64 | float32 | float64
}

// LaneOf returns the lane for T.
func LaneOf[T Element]() Lane {
	var z T
	switch any(z).(type) {
	case int8:
		return LaneInt8
	case uint8:
		return LaneUint8
	case Clamped:
		return LaneUint8Clamped
	case int16:
		return LaneInt16
	case uint16:
		return LaneUint16
	case int32:
		return LaneInt32
	case uint32:
		return LaneUint32
	case int64:
		return LaneInt64
	case float32:
		return LaneFloat32
	default:
		return LaneFloat64
	}
}

func load[T Element](b []byte, order binary.ByteOrder) T {
	var z T
	switch any(z).(type) {
	case int8:
		return T(int8(b[0]))
	case uint8, Clamped:
		return T(b[0])
	case int16:
		return T(int16(order.Uint16(b)))
	case uint16:
		return T(order.Uint16(b))
	case int32:
		return T(int32(order.Uint32(b)))
	case uint32:
		return T(order.Uint32(b))
	case int64:
		return T(int64(order.Uint64(b)))
	case float32:
		return T(math.Float32frombits(order.Uint32(b)))
	default:
		return T(math.Float64frombits(order.Uint64(b)))
	}
}

func store[T Element](b []byte, v T, order binary.ByteOrder) {
	switch x := any(v).(type) {
	case int8:
		b[0] = byte(x)
	case uint8:
		b[0] = x
	case Clamped:
		b[0] = byte(x)
	case int16:
		order.PutUint16(b, uint16(x))
	case uint16:
		order.PutUint16(b, x)
	case int32:
		order.PutUint32(b, uint32(x))
	case uint32:
		order.PutUint32(b, x)
	case int64:
		order.PutUint64(b, uint64(x))
	case float32:
		order.PutUint32(b, math.Float32bits(x))
	case float64:
		order.PutUint64(b, math.Float64bits(x))
	}
}

// fromFloat converts a number to T using typed array store rules:
// integers wrap modulo their width, NaN and infinities store as 0.
func fromFloat[T Element](f float64) T {
	var z T
	switch any(z).(type) {
	case float32, float64:
		return T(f)
	case Clamped:
		return T(ClampFloat(f))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	// wrap through int64 first so negative values keep two's complement bits
	t := math.Trunc(f)
	if t >= -(1<<63) && t < 1<<63 {
		return T(int64(t))
	}
	return T(uint64(math.Mod(t, 1<<64)))
}
