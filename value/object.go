package value

import (
	"context"
	"strconv"
)

// NullValue is the type of Null.
type NullValue struct{}

// Null is the null value. Undefined is Go nil.
var Null = NullValue{}

// IsUndefined reports whether v is the undefined value.
func IsUndefined(v any) bool { return v == nil }

// IsNullish reports whether v is undefined or null.
func IsNullish(v any) bool {
	_, isNull := v.(NullValue)
	return v == nil || isNull
}

// Object is a host object with string-keyed properties.
type Object interface {
	Get(key string) any
	Set(key string, v any)
	Delete(key string) bool
	Has(key string) bool
	Keys() []string
}

// Func is a callable host value.
type Func interface {
	Call(ctx context.Context, this any, args []any) (any, error)
}

// FuncOf adapts a Go function to Func.
type FuncOf func(ctx context.Context, this any, args []any) (any, error)

func (f FuncOf) Call(ctx context.Context, this any, args []any) (any, error) {
	return f(ctx, this, args)
}

// Constructor is a host value usable with construct.
type Constructor interface {
	Construct(ctx context.Context, args []any) (any, error)
}

// PlainObject is an insertion-ordered property bag.
type PlainObject struct {
	props map[string]any
	keys  []string
}

// NewObject returns an empty object.
func NewObject() *PlainObject {
	return &PlainObject{props: make(map[string]any)}
}

// ObjectFrom builds an object from key/value pairs in order.
func ObjectFrom(kv ...any) *PlainObject {
	o := NewObject()
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			o.Set(k, kv[i+1])
		}
	}
	return o
}

func (o *PlainObject) Get(key string) any {
	return o.props[key]
}

func (o *PlainObject) Set(key string, v any) {
	if _, ok := o.props[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.props[key] = v
}

func (o *PlainObject) Delete(key string) bool {
	if _, ok := o.props[key]; !ok {
		return true
	}
	delete(o.props, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

func (o *PlainObject) Has(key string) bool {
	_, ok := o.props[key]
	return ok
}

func (o *PlainObject) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Array is a growable host array. It also answers "length" and index
// properties through the Object interface.
type Array struct {
	items []any
}

// NewArray returns an array holding items.
func NewArray(items ...any) *Array {
	return &Array{items: append([]any(nil), items...)}
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.items) }

// At returns element i, or undefined when out of range.
func (a *Array) At(i int) any {
	if i < 0 || i >= len(a.items) {
		return nil
	}
	return a.items[i]
}

// SetAt stores v at i, growing the array with undefined holes as needed.
func (a *Array) SetAt(i int, v any) {
	if i < 0 {
		return
	}
	for len(a.items) <= i {
		a.items = append(a.items, nil)
	}
	a.items[i] = v
}

// Push appends values and returns the new length.
func (a *Array) Push(vs ...any) int {
	a.items = append(a.items, vs...)
	return len(a.items)
}

// Pop removes and returns the last element.
func (a *Array) Pop() any {
	if len(a.items) == 0 {
		return nil
	}
	v := a.items[len(a.items)-1]
	a.items[len(a.items)-1] = nil
	a.items = a.items[:len(a.items)-1]
	return v
}

// Items returns a copy of the elements.
func (a *Array) Items() []any {
	return append([]any(nil), a.items...)
}

func arrayIndex(key string) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || strconv.Itoa(i) != key {
		return 0, false
	}
	return i, true
}

func (a *Array) Get(key string) any {
	if key == "length" {
		return float64(len(a.items))
	}
	if i, ok := arrayIndex(key); ok {
		return a.At(i)
	}
	return nil
}

func (a *Array) Set(key string, v any) {
	if key == "length" {
		n, ok := ToNumber(v)
		if !ok || n < 0 {
			return
		}
		size := int(n)
		if size < len(a.items) {
			clear(a.items[size:])
			a.items = a.items[:size]
		}
		for len(a.items) < size {
			a.items = append(a.items, nil)
		}
		return
	}
	if i, ok := arrayIndex(key); ok {
		a.SetAt(i, v)
	}
}

func (a *Array) Delete(key string) bool {
	if i, ok := arrayIndex(key); ok && i < len(a.items) {
		a.items[i] = nil
	}
	return true
}

func (a *Array) Has(key string) bool {
	if key == "length" {
		return true
	}
	i, ok := arrayIndex(key)
	return ok && i < len(a.items)
}

func (a *Array) Keys() []string {
	keys := make([]string, len(a.items))
	for i := range a.items {
		keys[i] = strconv.Itoa(i)
	}
	return keys
}
