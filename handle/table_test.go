package handle

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnHandleEvent(e Event) {
	o.events = append(o.events, e)
}

type droppable struct {
	dropped int
}

func (d *droppable) Drop() { d.dropped++ }

func TestTable_Basic(t *testing.T) {
	table := NewTable()

	h := table.Insert("test")
	if h == Undefined {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok || val != "test" {
		t.Fatalf("Get = %v, %v", val, ok)
	}

	if !table.Release(h) {
		t.Fatal("Release failed")
	}
	if _, ok := table.Get(h); ok {
		t.Fatal("released handle should be stale")
	}
	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Release")
	}
}

func TestTable_Undefined(t *testing.T) {
	table := NewTable()
	if h := table.Insert(nil); h != Undefined {
		t.Fatalf("nil should map to handle 0, got %d", h)
	}
	v, ok := table.Get(Undefined)
	if !ok || v != nil {
		t.Fatalf("Get(0) = %v, %v", v, ok)
	}
	if table.Release(Undefined) {
		t.Fatal("releasing undefined should be a no-op")
	}
}

func TestTable_PointerIdentity(t *testing.T) {
	table := NewTable()
	obj := &droppable{}

	a := table.Insert(obj)
	b := table.Insert(obj)
	if a != b {
		t.Fatalf("same pointer got handles %d and %d", a, b)
	}
	if table.Refs(a) != 2 {
		t.Fatalf("Refs = %d, want 2", table.Refs(a))
	}

	table.Release(a)
	if _, ok := table.Get(a); !ok {
		t.Fatal("handle should survive while references remain")
	}
	if obj.dropped != 0 {
		t.Fatal("dropped too early")
	}
	table.Release(a)
	if obj.dropped != 1 {
		t.Fatalf("Drop called %d times", obj.dropped)
	}
	if _, ok := table.Lookup(obj); ok {
		t.Fatal("identity index should forget released values")
	}

	// values are never deduplicated
	if table.Insert(1.5) == table.Insert(1.5) {
		t.Fatal("numbers should not share handles")
	}
}

func TestTable_FreeListReuse(t *testing.T) {
	table := NewTable()
	h1 := table.Insert("a")
	table.Insert("b")
	table.Release(h1)
	h3 := table.Insert("c")
	if h3 != h1 {
		t.Fatalf("expected slot reuse: got %d, want %d", h3, h1)
	}
}

func TestTable_Observer(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	h := table.Insert("test")
	table.Release(h)
	if len(obs.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(obs.events))
	}
	if obs.events[0].Type != EventCreated || obs.events[1].Type != EventReleased {
		t.Fatalf("unexpected events %+v", obs.events)
	}
	if obs.events[1].Handle != h {
		t.Fatal("Wrong handle in event")
	}
}

func TestTable_Close(t *testing.T) {
	table := NewTable()
	d := &droppable{}
	table.Insert(d)
	if err := table.Close(); err != nil {
		t.Fatal(err)
	}
	if d.dropped != 1 {
		t.Fatalf("Close should drop live values, dropped=%d", d.dropped)
	}
	if h := table.Insert("late"); h != Undefined {
		t.Fatal("insert after close should fail")
	}
}

func TestLogObserver(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	table := NewTable()
	table.Subscribe(LogObserver{Logger: zap.New(core)})
	table.Release(table.Insert("x"))
	if logs.Len() != 2 {
		t.Fatalf("expected 2 log entries, got %d", logs.Len())
	}
	if logs.All()[0].Message != "handle created" {
		t.Fatalf("first entry = %q", logs.All()[0].Message)
	}
}
