package async

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
)

// Invoker delivers completions to the guest. It is only called from Run.
type Invoker interface {
	Invoke(ctx context.Context, c Completion) error
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, c Completion) error

func (f InvokerFunc) Invoke(ctx context.Context, c Completion) error { return f(ctx, c) }

// Task is a unit of work run on the loop.
type Task func(ctx context.Context) error

// Loop is a per-instance event loop.
type Loop struct {
	invoker Invoker
	logger  *zap.Logger
	wake    chan struct{}
	ops     map[*Op]struct{}
	macro   []Task
	micro   []Task
	nextID  uint64
	alive   int
	holds   int
	mu      sync.Mutex
	running atomic.Bool
	closed  bool
}

// NewLoop creates a loop that delivers completions through inv.
func NewLoop(inv Invoker, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		invoker: inv,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		ops:     make(map[*Op]struct{}),
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) newOp(kind Kind, token uint32) *Op {
	l.nextID++
	op := &Op{id: l.nextID, kind: kind, token: token, loop: l}
	l.ops[op] = struct{}{}
	if keepsAlive(kind) {
		l.alive++
	}
	return op
}

// keepsAlive reports whether ops of kind keep Run from returning. Promise
// waits do not: whoever settles the promise holds the loop instead.
func keepsAlive(kind Kind) bool {
	return kind != KindPromise
}

func (l *Loop) dropLocked(op *Op) {
	if _, ok := l.ops[op]; !ok {
		return
	}
	delete(l.ops, op)
	if keepsAlive(op.kind) {
		l.alive--
	}
}

// settle removes a terminal op from the live set.
func (l *Loop) settle(op *Op) {
	l.mu.Lock()
	l.dropLocked(op)
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) enqueue(t Task, micro bool) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	if micro {
		l.micro = append(l.micro, t)
	} else {
		l.macro = append(l.macro, t)
	}
	l.mu.Unlock()
	l.signal()
	return true
}

func (l *Loop) deliver(ctx context.Context, c Completion) error {
	if l.invoker == nil {
		return nil
	}
	return l.invoker.Invoke(ctx, c)
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// SetTimeout fires token once after d.
func (l *Loop) SetTimeout(d time.Duration, token uint32) *Op {
	l.mu.Lock()
	defer l.mu.Unlock()
	op := l.newOp(KindTimeout, token)
	if l.closed {
		op.cancel()
		l.dropLocked(op)
		return op
	}
	op.timer = time.AfterFunc(clampDelay(d), func() {
		l.enqueue(func(ctx context.Context) error {
			if !op.fire() {
				return nil
			}
			l.settle(op)
			return l.deliver(ctx, Completion{Token: token, Absent: true})
		}, false)
	})
	l.logger.Debug("timeout scheduled", zap.Uint64("op", op.id), zap.Duration("delay", d))
	return op
}

// SetInterval fires token every d until cancelled.
func (l *Loop) SetInterval(d time.Duration, token uint32) *Op {
	d = clampDelay(d)
	if d == 0 {
		d = time.Millisecond
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	op := l.newOp(KindInterval, token)
	if l.closed {
		op.cancel()
		l.dropLocked(op)
		return op
	}
	var tick func()
	tick = func() {
		if !op.live() {
			return
		}
		l.enqueue(func(ctx context.Context) error {
			if !op.live() {
				return nil
			}
			return l.deliver(ctx, Completion{Token: token, Absent: true})
		}, false)
		op.timer.Reset(d)
	}
	op.timer = time.AfterFunc(d, tick)
	l.logger.Debug("interval scheduled", zap.Uint64("op", op.id), zap.Duration("every", d))
	return op
}

// QueueMicrotask runs token before the next macrotask.
func (l *Loop) QueueMicrotask(token uint32) *Op {
	l.mu.Lock()
	op := l.newOp(KindMicrotask, token)
	closed := l.closed
	l.mu.Unlock()
	if closed {
		op.cancel()
		l.settle(op)
		return op
	}
	l.enqueue(func(ctx context.Context) error {
		if !op.fire() {
			return nil
		}
		l.settle(op)
		return l.deliver(ctx, Completion{Token: token, Absent: true})
	}, true)
	return op
}

// Await delivers token when p settles. Rejections set Failed; Absent is set
// when the settled value was undefined.
func (l *Loop) Await(p *Promise, token uint32) *Op {
	l.mu.Lock()
	op := l.newOp(KindPromise, token)
	l.mu.Unlock()
	p.Then(func(ctx context.Context, v any) error {
		if !op.fire() {
			return nil
		}
		l.settle(op)
		return l.deliver(ctx, Completion{Token: token, Value: v, Absent: v == nil})
	}, func(ctx context.Context, reason any, absent bool) error {
		if !op.fire() {
			return nil
		}
		l.settle(op)
		return l.deliver(ctx, Completion{Token: token, Value: reason, Failed: true, Absent: absent})
	})
	return op
}

// Cancel moves op to Cancelled. It reports false when op already fired or was
// cancelled before; neither case invokes anything.
func (l *Loop) Cancel(op *Op) bool {
	if op == nil || op.loop != l || !op.cancel() {
		return false
	}
	if op.timer != nil {
		op.timer.Stop()
	}
	l.settle(op)
	l.logger.Debug("op cancelled", zap.Uint64("op", op.id), zap.Stringer("kind", op.kind))
	return true
}

// Post queues a macrotask from any goroutine. It reports false after Close.
func (l *Loop) Post(t Task) bool {
	return l.enqueue(t, false)
}

// Microtask queues a host microtask from any goroutine.
func (l *Loop) Microtask(t Task) bool {
	return l.enqueue(t, true)
}

// Hold keeps Run from returning until release is called. Host work that will
// post back later (network reads, module loads) holds the loop while in flight.
func (l *Loop) Hold() (release func()) {
	l.mu.Lock()
	l.holds++
	l.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.holds--
			l.mu.Unlock()
			l.signal()
		})
	}
}

// Pending returns the number of live ops.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

func (l *Loop) next() (Task, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.micro) > 0 {
		t := l.micro[0]
		l.micro[0] = nil
		l.micro = l.micro[1:]
		return t, true, false
	}
	if len(l.macro) > 0 {
		t := l.macro[0]
		l.macro[0] = nil
		l.macro = l.macro[1:]
		return t, true, false
	}
	return nil, false, l.alive == 0 && l.holds == 0
}

// Run executes tasks until no timer, interval, microtask or hold is outstanding
// and the queues are empty, ctx is done, or a task fails. Only one Run may be active at a time.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.InvalidInput(errors.PhaseAsync, "event loop is already running")
	}
	defer l.running.Store(false)

	for {
		task, ok, idle := l.next()
		if ok {
			if err := task(ctx); err != nil {
				return err
			}
			continue
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Drain runs queued tasks without waiting for pending ops.
func (l *Loop) Drain(ctx context.Context) error {
	for {
		task, ok, _ := l.next()
		if !ok {
			return nil
		}
		if err := task(ctx); err != nil {
			return err
		}
	}
}

// Close cancels every live op and drops queued work.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	ops := make([]*Op, 0, len(l.ops))
	for op := range l.ops {
		ops = append(ops, op)
	}
	l.macro = nil
	l.micro = nil
	l.mu.Unlock()

	for _, op := range ops {
		l.Cancel(op)
	}
	l.signal()
}

type ctxKeyLoop struct{}

// WithLoop attaches l to ctx.
func WithLoop(ctx context.Context, l *Loop) context.Context {
	return context.WithValue(ctx, ctxKeyLoop{}, l)
}

// LoopFrom returns the loop attached to ctx, if any.
func LoopFrom(ctx context.Context) *Loop {
	if v := ctx.Value(ctxKeyLoop{}); v != nil {
		return v.(*Loop)
	}
	return nil
}
