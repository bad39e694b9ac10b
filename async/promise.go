package async

import (
	"context"
	"sync"
)

// PromiseState is the settlement state of a Promise.
type PromiseState int

const (
	Pending PromiseState = iota
	Fulfilled
	Rejected
)

// OnFulfilled receives the value of a fulfilled promise.
type OnFulfilled func(ctx context.Context, value any) error

// OnRejected receives the reason of a rejected promise. absent is true when the
// promise was rejected without a reason, which differs from a falsy reason.
type OnRejected func(ctx context.Context, reason any, absent bool) error

type reaction struct {
	onOK  OnFulfilled
	onErr OnRejected
}

// Promise is a host promise whose reactions run as microtasks on its loop.
// Go nil is the undefined value.
type Promise struct {
	loop      *Loop
	value     any
	reactions []reaction
	mu        sync.Mutex
	state     PromiseState
}

// NewPromise returns a pending promise bound to l.
func (l *Loop) NewPromise() *Promise {
	return &Promise{loop: l}
}

// Resolved returns a promise already fulfilled with v.
func (l *Loop) Resolved(v any) *Promise {
	p := l.NewPromise()
	p.Resolve(v)
	return p
}

// Rejected returns a promise already rejected with reason.
func (l *Loop) Rejected(reason any) *Promise {
	p := l.NewPromise()
	p.Reject(reason)
	return p
}

// State returns the settlement state and value.
func (p *Promise) State() (PromiseState, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.value
}

// Resolve fulfills p. Only the first settlement counts.
func (p *Promise) Resolve(v any) bool {
	return p.settle(Fulfilled, v)
}

// Reject rejects p. Only the first settlement counts.
func (p *Promise) Reject(reason any) bool {
	return p.settle(Rejected, reason)
}

func (p *Promise) settle(state PromiseState, v any) bool {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return false
	}
	p.state = state
	p.value = v
	rs := p.reactions
	p.reactions = nil
	p.mu.Unlock()

	for _, r := range rs {
		p.schedule(r, state, v)
	}
	return true
}

func (p *Promise) schedule(r reaction, state PromiseState, v any) {
	p.loop.Microtask(func(ctx context.Context) error {
		if state == Fulfilled {
			if r.onOK == nil {
				return nil
			}
			return r.onOK(ctx, v)
		}
		if r.onErr == nil {
			return nil
		}
		return r.onErr(ctx, v, v == nil)
	})
}

// Then registers reactions. Either may be nil.
func (p *Promise) Then(onOK OnFulfilled, onErr OnRejected) {
	r := reaction{onOK: onOK, onErr: onErr}
	p.mu.Lock()
	if p.state == Pending {
		p.reactions = append(p.reactions, r)
		p.mu.Unlock()
		return
	}
	state, v := p.state, p.value
	p.mu.Unlock()
	p.schedule(r, state, v)
}
