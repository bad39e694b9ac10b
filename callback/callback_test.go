package callback

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/wasm-bridge/value"
)

type recordingInvoker struct {
	calls []struct {
		ref  uint32
		args []any
	}
}

func (r *recordingInvoker) InvokeWrapped(_ context.Context, w *Wrapper, args []any) (any, error) {
	r.calls = append(r.calls, struct {
		ref  uint32
		args []any
	}{w.Ref(), args})
	return float64(len(args)), nil
}

func TestWrap(t *testing.T) {
	inv := &recordingInvoker{}
	a := Wrap(7, 501, inv)
	b := Wrap(7, 501, inv)

	if !IsWrapped(a) || !IsWrapped(b) {
		t.Fatal("wrappers should be recognised")
	}
	if a == b || b.ID() <= a.ID() {
		t.Fatalf("ids must increase: %d then %d", a.ID(), b.ID())
	}

	ref, ok := Unwrap(a)
	if !ok || ref != 7 {
		t.Fatalf("Unwrap = %d, %v", ref, ok)
	}
	again := Wrap(ref, a.Key(), inv)
	if again.Ref() != a.Ref() || again.Key() != a.Key() {
		t.Fatal("re-wrapping should target the same guest function")
	}

	res, err := a.Call(context.Background(), nil, []any{1.0, "x"})
	if err != nil || res != 2.0 {
		t.Fatalf("Call = %v, %v", res, err)
	}
	if len(inv.calls) != 1 || inv.calls[0].ref != 7 {
		t.Fatalf("invoker saw %+v", inv.calls)
	}
}

func TestIsWrapped_RejectsLookalikes(t *testing.T) {
	fn := value.FuncOf(func(context.Context, any, []any) (any, error) { return nil, nil })
	forged := &Wrapper{ref: 1}
	for _, v := range []any{nil, fn, forged, (*Wrapper)(nil), 3} {
		if IsWrapped(v) {
			t.Errorf("IsWrapped(%T) = true", v)
		}
		if _, ok := Unwrap(v); ok {
			t.Errorf("Unwrap(%T) succeeded", v)
		}
	}
}

type payload struct {
	b [64]byte
}

func collect(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestRegistry_FiresOnceAfterCollection(t *testing.T) {
	var fired atomic.Int32
	var held atomic.Value
	r := NewRegistry(func(h any) {
		fired.Add(1)
		held.Store(h)
	})

	func() {
		if err := Register(r, &payload{}, "held-value", nil); err != nil {
			t.Fatal(err)
		}
	}()

	if !collect(t, func() bool { return fired.Load() > 0 }) {
		t.Fatal("notification never arrived")
	}
	time.Sleep(20 * time.Millisecond)
	runtime.GC()
	if fired.Load() != 1 {
		t.Fatalf("fired %d times", fired.Load())
	}
	if held.Load() != "held-value" {
		t.Fatalf("held = %v", held.Load())
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d after firing", r.Len())
	}
}

func TestRegistry_UnregisterPreventsNotification(t *testing.T) {
	var fired atomic.Int32
	r := NewRegistry(func(any) { fired.Add(1) })

	func() {
		if err := Register(r, &payload{}, 1, "token"); err != nil {
			t.Fatal(err)
		}
	}()
	if !r.Unregister("token") {
		t.Fatal("first unregister should withdraw the registration")
	}
	if r.Unregister("token") {
		t.Fatal("second unregister should be a no-op")
	}

	for i := 0; i < 5; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() != 0 {
		t.Fatalf("withdrawn registration fired %d times", fired.Load())
	}
}

func TestRegistry_TargetNotKeptAlive(t *testing.T) {
	var fired atomic.Int32
	r := NewRegistry(func(any) { fired.Add(1) })
	func() {
		obj := value.NewObject()
		// using the target as its own token must not pin it
		if err := RegisterValue(r, obj, nil, obj); err != nil {
			t.Fatal(err)
		}
	}()
	if !collect(t, func() bool { return fired.Load() == 1 }) {
		t.Fatal("self-token registration kept the target alive")
	}
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry(nil)
	if err := RegisterValue(r, 42, nil, nil); err == nil {
		t.Fatal("primitive targets should be rejected")
	}
	if err := RegisterValue(r, nil, nil, nil); err == nil {
		t.Fatal("undefined target should be rejected")
	}
	if err := Register(r, &payload{}, nil, []int{1}); err == nil {
		t.Fatal("non-comparable token should be rejected")
	}
}
