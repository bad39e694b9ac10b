package value

import (
	"github.com/wippyai/wasm-bridge/async"
	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/view"
)

// Tag is the runtime type discriminator returned to the guest.
type Tag uint32

const (
	TagUndefined Tag = iota + 1
	TagBoolean
	TagNumber
	TagString
	TagArray
	TagInt8Array
	TagUint8Array
	TagUint8ClampedArray
	TagInt16Array
	TagUint16Array
	TagInt32Array
	TagUint32Array
	TagFloat32Array
	TagFloat64Array
	TagDataView
	TagArrayBuffer
	TagSharedArrayBuffer
	TagPromise
	TagOther
)

var tagNames = [...]string{
	TagUndefined:         "undefined",
	TagBoolean:           "boolean",
	TagNumber:            "number",
	TagString:            "string",
	TagArray:             "array",
	TagInt8Array:         "int8-array",
	TagUint8Array:        "uint8-array",
	TagUint8ClampedArray: "uint8-clamped-array",
	TagInt16Array:        "int16-array",
	TagUint16Array:       "uint16-array",
	TagInt32Array:        "int32-array",
	TagUint32Array:       "uint32-array",
	TagFloat32Array:      "float32-array",
	TagFloat64Array:      "float64-array",
	TagDataView:          "data-view",
	TagArrayBuffer:       "array-buffer",
	TagSharedArrayBuffer: "shared-array-buffer",
	TagPromise:           "promise",
	TagOther:             "other",
}

func (t Tag) String() string {
	if t == 0 || int(t) >= len(tagNames) {
		return "invalid"
	}
	return tagNames[t]
}

// Classify returns the tag for v. It has no side effects.
func Classify(v any) Tag {
	switch x := v.(type) {
	case nil:
		return TagUndefined
	case bool:
		return TagBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return TagNumber
	case hoststring.String, *hoststring.String, string:
		return TagString
	case *Array, []any:
		return TagArray
	case *view.TypedArray[int8]:
		return TagInt8Array
	case *view.TypedArray[uint8]:
		return TagUint8Array
	case *view.TypedArray[view.Clamped]:
		return TagUint8ClampedArray
	case *view.TypedArray[int16]:
		return TagInt16Array
	case *view.TypedArray[uint16]:
		return TagUint16Array
	case *view.TypedArray[int32]:
		return TagInt32Array
	case *view.TypedArray[uint32]:
		return TagUint32Array
	case *view.TypedArray[float32]:
		return TagFloat32Array
	case *view.TypedArray[float64]:
		return TagFloat64Array
	case *view.DataView:
		return TagDataView
	case view.Buffer:
		if x.Kind() == view.KindShared {
			return TagSharedArrayBuffer
		}
		return TagArrayBuffer
	case *async.Promise:
		return TagPromise
	}
	return TagOther
}
