package runtime

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/errors"
)

// maxDepth bounds guest -> host -> guest nesting.
const maxDepth = 256

type frameKey struct{}

// frame marks a context as running inside a guest call of inst.
type frame struct {
	inst  *Instance
	depth int
}

func frameOf(ctx context.Context, i *Instance) (*frame, bool) {
	f, ok := ctx.Value(frameKey{}).(*frame)
	if !ok || f.inst != i {
		return nil, false
	}
	return f, true
}

// Reentrant reports whether ctx belongs to a guest call of i that was
// itself entered from inside another guest call of i. A top-level call
// reports false.
func (i *Instance) Reentrant(ctx context.Context) bool {
	f, ok := frameOf(ctx, i)
	return ok && f.depth > 0
}

// CallExport calls a guest export. Calls made from inside a guest call of
// this instance run nested at the next depth without taking the instance
// lock; every other call waits for the current top-level call to return.
func (i *Instance) CallExport(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	depth := 0
	if f, ok := frameOf(ctx, i); ok {
		depth = f.depth + 1
	} else {
		i.mu.Lock()
		defer i.mu.Unlock()
	}
	if i.closed.Load() {
		return nil, errors.Closed(errors.PhaseRuntime, "instance")
	}
	if i.guest == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(name).
			Detail("guest is not instantiated yet").
			Build()
	}
	if depth >= maxDepth {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(name).
			Detail("call depth exceeds %d", maxDepth).
			Build()
	}

	fn, err := i.function(name, depth)
	if err != nil {
		return nil, err
	}
	res, err := fn.Call(context.WithValue(ctx, frameKey{}, &frame{inst: i, depth: depth}), params...)
	if err != nil {
		return nil, errors.GuestTrap(name, err)
	}
	return res, nil
}

// function returns the export bound for depth. Each depth has its own
// api.Function, so a nested call never runs on the stack of the call that
// is suspended beneath it.
func (i *Instance) function(name string, depth int) (api.Function, error) {
	i.fnMu.Lock()
	defer i.fnMu.Unlock()
	list := i.fns[name]
	for len(list) <= depth {
		list = append(list, nil)
	}
	if list[depth] == nil {
		fn := i.guest.ExportedFunction(name)
		if fn == nil {
			return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
		}
		list[depth] = fn
	}
	i.fns[name] = list
	return list[depth], nil
}

