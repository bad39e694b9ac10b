package async

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recorder collects delivered completions.
type recorder struct {
	mu  sync.Mutex
	got []Completion
	at  []time.Time
}

func (r *recorder) Invoke(_ context.Context, c Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, c)
	r.at = append(r.at, time.Now())
	return nil
}

func (r *recorder) tokens() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint32, len(r.got))
	for i, c := range r.got {
		out[i] = c.Token
	}
	return out
}

func runWithTimeout(t *testing.T, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSetTimeout_FiresOnceAfterDelay(t *testing.T) {
	rec := &recorder{}
	l := NewLoop(rec, nil)
	start := time.Now()
	op := l.SetTimeout(50*time.Millisecond, 7)
	runWithTimeout(t, l)

	if len(rec.got) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(rec.got))
	}
	c := rec.got[0]
	if c.Token != 7 || c.Failed {
		t.Fatalf("unexpected completion %+v", c)
	}
	if elapsed := rec.at[0].Sub(start); elapsed < 50*time.Millisecond {
		t.Fatalf("fired after %v, want >= 50ms", elapsed)
	}
	if op.State() != Fired {
		t.Fatalf("state = %v, want fired", op.State())
	}
}

func TestCancelBeforeFire(t *testing.T) {
	rec := &recorder{}
	l := NewLoop(rec, nil)
	op := l.SetTimeout(10*time.Millisecond, 1)
	if !l.Cancel(op) {
		t.Fatal("cancel of scheduled op should succeed")
	}
	if l.Cancel(op) {
		t.Fatal("second cancel should be a no-op")
	}
	runWithTimeout(t, l)
	time.Sleep(30 * time.Millisecond)
	if len(rec.got) != 0 {
		t.Fatalf("cancelled op delivered %v", rec.got)
	}
	if op.State() != Cancelled {
		t.Fatalf("state = %v, want cancelled", op.State())
	}
}

func TestCancelAfterTimerExpiredButBeforeDelivery(t *testing.T) {
	rec := &recorder{}
	l := NewLoop(rec, nil)
	op := l.SetTimeout(0, 1)
	// let the timer goroutine post its task without running the loop
	time.Sleep(20 * time.Millisecond)
	if !l.Cancel(op) {
		t.Fatal("op has not been delivered yet; cancel should win")
	}
	runWithTimeout(t, l)
	if len(rec.got) != 0 {
		t.Fatalf("cancelled op delivered %v", rec.got)
	}
}

func TestCancelAfterFireIsNoop(t *testing.T) {
	rec := &recorder{}
	l := NewLoop(rec, nil)
	op := l.SetTimeout(0, 3)
	runWithTimeout(t, l)
	if l.Cancel(op) {
		t.Fatal("cancel after fire should report false")
	}
	if op.State() != Fired || len(rec.got) != 1 {
		t.Fatalf("state=%v deliveries=%d", op.State(), len(rec.got))
	}
}

func TestInterval(t *testing.T) {
	var l *Loop
	var op *Op
	count := 0
	l = NewLoop(InvokerFunc(func(ctx context.Context, c Completion) error {
		count++
		if count == 3 {
			l.Cancel(op)
		}
		return nil
	}), nil)
	op = l.SetInterval(5*time.Millisecond, 9)
	runWithTimeout(t, l)
	if count != 3 {
		t.Fatalf("interval fired %d times, want 3", count)
	}
}

func TestMicrotasksRunBeforeMacrotasks(t *testing.T) {
	rec := &recorder{}
	l := NewLoop(rec, nil)
	l.Post(func(ctx context.Context) error {
		return rec.Invoke(ctx, Completion{Token: 100})
	})
	l.QueueMicrotask(1)
	l.QueueMicrotask(2)
	runWithTimeout(t, l)

	got := rec.tokens()
	want := []uint32{1, 2, 100}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCloseCancelsEverything(t *testing.T) {
	rec := &recorder{}
	l := NewLoop(rec, nil)
	a := l.SetTimeout(time.Hour, 1)
	b := l.SetInterval(time.Hour, 2)
	l.Close()
	if a.State() != Cancelled || b.State() != Cancelled {
		t.Fatalf("states after close: %v %v", a.State(), b.State())
	}
	if l.Pending() != 0 {
		t.Fatalf("pending = %d", l.Pending())
	}
	if l.Post(func(context.Context) error { return nil }) {
		t.Fatal("post after close should be rejected")
	}
}

func TestHoldKeepsLoopAlive(t *testing.T) {
	l := NewLoop(nil, nil)
	release := l.Hold()
	done := false
	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Post(func(context.Context) error {
			done = true
			return nil
		})
		release()
	}()
	runWithTimeout(t, l)
	if !done {
		t.Fatal("Run returned before held work completed")
	}
}

func TestRunStopsOnContext(t *testing.T) {
	l := NewLoop(nil, nil)
	l.SetTimeout(time.Hour, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Run = %v, want deadline exceeded", err)
	}
	l.Close()
}
