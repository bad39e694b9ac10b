package callback

import (
	"reflect"
	"runtime"
	"sync"
	"weak"

	"github.com/wippyai/wasm-bridge/async"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/view"
)

// Registry notifies once per registration after its target is collected.
type Registry struct {
	notify  func(held any)
	byToken map[any][]*entry
	live    map[*entry]struct{}
	mu      sync.Mutex
}

type entry struct {
	held    any
	token   any
	cleanup runtime.Cleanup
	done    bool
}

// NewRegistry returns a registry that calls notify with the held value of each
// collected target. notify runs on the runtime's cleanup goroutine.
func NewRegistry(notify func(held any)) *Registry {
	return &Registry{
		notify:  notify,
		byToken: make(map[any][]*entry),
		live:    make(map[*entry]struct{}),
	}
}

// Register watches target. token, when non-nil, can later withdraw the
// registration through Unregister; pointer tokens are held weakly.
func Register[T any](r *Registry, target *T, held any, token any) error {
	if target == nil {
		return errors.InvalidInput(errors.PhaseCallback, "finalization target is nil")
	}
	key, err := tokenKey(token)
	if err != nil {
		return err
	}
	e := &entry{held: held, token: key}
	e.cleanup = runtime.AddCleanup(target, r.fire, e)

	r.mu.Lock()
	if !e.done {
		r.live[e] = struct{}{}
		if key != nil {
			r.byToken[key] = append(r.byToken[key], e)
		}
	}
	r.mu.Unlock()
	runtime.KeepAlive(target)
	return nil
}

// RegisterValue is Register for host values whose static type is unknown.
func RegisterValue(r *Registry, target any, held any, token any) error {
	switch t := target.(type) {
	case *Wrapper:
		return Register(r, t, held, token)
	case *value.PlainObject:
		return Register(r, t, held, token)
	case *value.Array:
		return Register(r, t, held, token)
	case *async.Promise:
		return Register(r, t, held, token)
	case *view.ArrayBuffer:
		return Register(r, t, held, token)
	case *view.SharedArrayBuffer:
		return Register(r, t, held, token)
	case *view.DataView:
		return Register(r, t, held, token)
	}
	if target == nil {
		return errors.InvalidInput(errors.PhaseCallback, "finalization target is undefined")
	}
	return errors.Unsupported(errors.PhaseCallback, "finalization target must be an object, got "+reflect.TypeOf(target).String())
}

// tokenKey turns token into a map key that does not keep pointers alive.
func tokenKey(token any) (any, error) {
	switch t := token.(type) {
	case nil:
		return nil, nil
	case *Wrapper:
		return weak.Make(t), nil
	case *value.PlainObject:
		return weak.Make(t), nil
	case *value.Array:
		return weak.Make(t), nil
	}
	if !reflect.TypeOf(token).Comparable() {
		return nil, errors.InvalidInput(errors.PhaseCallback, "unregister token is not comparable")
	}
	return token, nil
}

func (r *Registry) fire(e *entry) {
	r.mu.Lock()
	if e.done {
		r.mu.Unlock()
		return
	}
	e.done = true
	r.removeLocked(e)
	r.mu.Unlock()

	if r.notify != nil {
		r.notify(e.held)
	}
}

func (r *Registry) removeLocked(e *entry) {
	delete(r.live, e)
	if e.token == nil {
		return
	}
	list := r.byToken[e.token]
	for i, x := range list {
		if x == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.byToken, e.token)
	} else {
		r.byToken[e.token] = list
	}
}

// Unregister withdraws every registration made with token. It reports whether
// anything was withdrawn; repeated calls are harmless.
func (r *Registry) Unregister(token any) bool {
	key, err := tokenKey(token)
	if err != nil || key == nil {
		return false
	}
	r.mu.Lock()
	list := r.byToken[key]
	delete(r.byToken, key)
	for _, e := range list {
		e.done = true
		delete(r.live, e)
	}
	r.mu.Unlock()

	for _, e := range list {
		e.cleanup.Stop()
	}
	return len(list) > 0
}

// Len returns the number of registrations still waiting.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Close withdraws all registrations without notifying.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.live))
	for e := range r.live {
		e.done = true
		entries = append(entries, e)
	}
	r.live = make(map[*entry]struct{})
	r.byToken = make(map[any][]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.cleanup.Stop()
	}
}
