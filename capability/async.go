package capability

import (
	"context"
	"math"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/async"
	"github.com/wippyai/wasm-bridge/value"
)

func millis(ms float64) time.Duration {
	if math.IsNaN(ms) || ms <= 0 {
		return 0
	}
	if ms >= float64(math.MaxInt64/int64(time.Millisecond)) {
		return math.MaxInt64
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (s *set) timers() {
	s.add("set-timeout", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, s.env.Loop().SetTimeout(millis(f64(stack, 0)), u32(stack, 1)))
	})
	s.add("set-interval", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, s.env.Loop().SetInterval(millis(f64(stack, 0)), u32(stack, 1)))
	})
	cancel := func(_ context.Context, _ api.Module, stack []uint64) {
		// clearing undefined or an unknown value is a no-op
		if op, ok := s.val(stack, 0).(*async.Op); ok {
			s.env.Loop().Cancel(op)
		}
	}
	s.add("clear-timeout", cancel)
	s.add("clear-interval", cancel)
	s.add("queue-microtask", func(_ context.Context, _ api.Module, stack []uint64) {
		s.env.Loop().QueueMicrotask(u32(stack, 0))
	})
}

// promiseOf converts v to a promise the way await does: non-promises
// become already fulfilled promises.
func (s *set) promiseOf(v any) *async.Promise {
	if p, ok := v.(*async.Promise); ok {
		return p
	}
	return s.env.Loop().Resolved(v)
}

func optionalFunc(s *set, stack []uint64, i int) value.Func {
	v := s.val(stack, i)
	if value.IsNullish(v) {
		return nil
	}
	fn, ok := v.(value.Func)
	if !ok {
		trap(mismatch("function", v))
	}
	return fn
}

// adopt settles p with v, following v when it is itself a promise.
func adopt(p *async.Promise, v any) {
	q, ok := v.(*async.Promise)
	if !ok {
		p.Resolve(v)
		return
	}
	q.Then(func(_ context.Context, v any) error {
		p.Resolve(v)
		return nil
	}, func(_ context.Context, reason any, _ bool) error {
		p.Reject(reason)
		return nil
	})
}

func (s *set) promises() {
	s.add("promise-then", func(_ context.Context, _ api.Module, stack []uint64) {
		p := s.promiseOf(s.val(stack, 0))
		onOK := optionalFunc(s, stack, 1)
		onFail := optionalFunc(s, stack, 2)
		next := s.env.Loop().NewPromise()

		p.Then(func(ctx context.Context, v any) error {
			if onOK == nil {
				next.Resolve(v)
				return nil
			}
			r, err := onOK.Call(ctx, nil, []any{v})
			if err != nil {
				return err
			}
			adopt(next, r)
			return nil
		}, func(ctx context.Context, reason any, absent bool) error {
			if onFail == nil {
				next.Reject(reason)
				return nil
			}
			// the second argument tells an undefined reason apart from a falsy one
			r, err := onFail.Call(ctx, nil, []any{reason, absent})
			if err != nil {
				return err
			}
			adopt(next, r)
			return nil
		})
		s.ret(stack, next)
	})
	s.add("promise-await", func(_ context.Context, _ api.Module, stack []uint64) {
		p := s.promiseOf(s.val(stack, 0))
		op := s.env.Loop().Await(p, u32(stack, 1))
		s.env.Logger().Debug("awaiting promise", zap.Uint64("op", op.ID()), zap.Uint32("token", op.Token()))
		s.ret(stack, op)
	})
	s.add("promise-new", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, s.env.Loop().NewPromise())
	})
	s.add("promise-resolve", func(_ context.Context, _ api.Module, stack []uint64) {
		p := as[*async.Promise](s, stack, 0, "promise")
		stack[0] = boolean(p.Resolve(s.val(stack, 1)))
	})
	s.add("promise-reject", func(_ context.Context, _ api.Module, stack []uint64) {
		p := as[*async.Promise](s, stack, 0, "promise")
		stack[0] = boolean(p.Reject(s.val(stack, 1)))
	})
	s.add("promise-resolved", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, s.env.Loop().Resolved(s.val(stack, 0)))
	})
	s.add("promise-rejected", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, s.env.Loop().Rejected(s.val(stack, 0)))
	})
}
