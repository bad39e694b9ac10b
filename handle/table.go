package handle

import (
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
)

// Handle is a guest-visible reference to a host value.
type Handle uint32

// Undefined is the handle of the undefined value.
const Undefined Handle = 0

// EventType identifies a table lifecycle event.
type EventType int

const (
	EventCreated EventType = iota
	EventReleased
)

// Event describes a handle lifecycle change.
type Event struct {
	Value  any
	Handle Handle
	Type   EventType
}

// Observer receives lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// Dropper is implemented by values that release host resources when their last
// handle goes away.
type Dropper interface {
	Drop()
}

type entry struct {
	value any
	refs  uint32
	valid bool
}

// Table is a per-instance handle table.
type Table struct {
	ids       map[any]Handle
	entries   []entry
	freeList  []Handle
	observers []Observer
	mu        sync.RWMutex
	closed    bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		ids:      make(map[any]Handle),
		entries:  make([]entry, 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

// identity reports whether v is compared by reference.
func identity(v any) bool {
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Pointer
}

// Insert stores v and returns its handle. nil maps to Undefined. Inserting a
// pointer already in the table returns the existing handle with one more
// reference.
func (t *Table) Insert(v any) Handle {
	if v == nil {
		return Undefined
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Undefined
	}
	ident := identity(v)
	if ident {
		if h, ok := t.ids[v]; ok {
			t.entries[h-1].refs++
			t.mu.Unlock()
			return h
		}
	}

	e := entry{value: v, refs: 1, valid: true}
	var h Handle
	if n := len(t.freeList); n > 0 {
		h = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[h-1] = e
	} else {
		t.entries = append(t.entries, e)
		h = Handle(len(t.entries))
	}
	if ident {
		t.ids[v] = h
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, Value: v})
	return h
}

// Get returns the value for h. Undefined resolves to (nil, true).
func (t *Table) Get(h Handle) (any, bool) {
	if h == Undefined {
		return nil, true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := int(h) - 1
	if idx >= len(t.entries) || !t.entries[idx].valid {
		return nil, false
	}
	return t.entries[idx].value, true
}

// MustGet is Get returning a range error for stale handles.
func (t *Table) MustGet(h Handle) (any, error) {
	v, ok := t.Get(h)
	if !ok {
		return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Value(h).
			Detail("stale or unknown handle %d", h).
			Build()
	}
	return v, nil
}

// Lookup returns the handle already assigned to pointer value v.
func (t *Table) Lookup(v any) (Handle, bool) {
	if !identity(v) {
		return Undefined, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.ids[v]
	return h, ok
}

// Refs returns the reference count of h.
func (t *Table) Refs(h Handle) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := int(h) - 1
	if h == Undefined || idx >= len(t.entries) || !t.entries[idx].valid {
		return 0
	}
	return t.entries[idx].refs
}

// Release drops one reference to h and reports whether h was live.
func (t *Table) Release(h Handle) bool {
	if h == Undefined {
		return false
	}
	t.mu.Lock()
	idx := int(h) - 1
	if idx >= len(t.entries) || !t.entries[idx].valid {
		t.mu.Unlock()
		return false
	}
	e := &t.entries[idx]
	e.refs--
	if e.refs > 0 {
		t.mu.Unlock()
		return true
	}
	v := e.value
	*e = entry{}
	if identity(v) {
		delete(t.ids, v)
	}
	t.freeList = append(t.freeList, h)
	t.mu.Unlock()

	if d, ok := v.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: EventReleased, Handle: h, Value: v})
	return true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries) - len(t.freeList)
}

// Each calls fn for every live handle until fn returns false.
func (t *Table) Each(fn func(h Handle, v any) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, e := range t.entries {
		if e.valid && !fn(Handle(i+1), e.value) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

func (t *Table) notify(e Event) {
	t.mu.RLock()
	obs := t.observers
	t.mu.RUnlock()
	for _, o := range obs {
		o.OnHandleEvent(e)
	}
}

// Close drops every value and stops accepting inserts.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	entries := t.entries
	t.entries = nil
	t.freeList = nil
	t.ids = make(map[any]Handle)
	t.mu.Unlock()

	for _, e := range entries {
		if !e.valid {
			continue
		}
		if d, ok := e.value.(Dropper); ok {
			d.Drop()
		}
	}
	return nil
}

// LogObserver logs handle events at debug level.
type LogObserver struct {
	Logger *zap.Logger
}

func (o LogObserver) OnHandleEvent(e Event) {
	if o.Logger == nil {
		return
	}
	switch e.Type {
	case EventCreated:
		o.Logger.Debug("handle created", zap.Uint32("handle", uint32(e.Handle)), zap.String("type", reflect.TypeOf(e.Value).String()))
	case EventReleased:
		o.Logger.Debug("handle released", zap.Uint32("handle", uint32(e.Handle)))
	}
}
