package callback

import (
	"context"
	"sync/atomic"
)

// Invoker calls a wrapped guest function. The runtime instance implements it.
type Invoker interface {
	InvokeWrapped(ctx context.Context, w *Wrapper, args []any) (any, error)
}

type marker struct{}

var wrapperMark = &marker{}

var nextID atomic.Uint64

// Wrapper is a host callable that forwards into a guest function.
type Wrapper struct {
	mark    *marker
	invoker Invoker
	id      uint64
	ref     uint32
	key     uint32
}

// Wrap returns a new wrapper around guest function ref. key selects the guest
// trampoline export used for the call.
func Wrap(ref, key uint32, inv Invoker) *Wrapper {
	return &Wrapper{
		mark:    wrapperMark,
		invoker: inv,
		id:      nextID.Add(1),
		ref:     ref,
		key:     key,
	}
}

// Ref returns the wrapped guest function reference.
func (w *Wrapper) Ref() uint32 { return w.ref }

// Key returns the trampoline key.
func (w *Wrapper) Key() uint32 { return w.key }

// ID returns the wrapper's discriminant. Later wrappers have larger ids.
func (w *Wrapper) ID() uint64 { return w.id }

// Call invokes the guest function. this is ignored; guest functions are not
// methods.
func (w *Wrapper) Call(ctx context.Context, this any, args []any) (any, error) {
	return w.invoker.InvokeWrapped(ctx, w, args)
}

// IsWrapped reports whether v is a wrapper produced by Wrap.
func IsWrapped(v any) bool {
	w, ok := v.(*Wrapper)
	return ok && w != nil && w.mark == wrapperMark
}

// Unwrap returns the guest function reference held by a wrapper.
func Unwrap(v any) (ref uint32, ok bool) {
	if !IsWrapped(v) {
		return 0, false
	}
	return v.(*Wrapper).ref, true
}
