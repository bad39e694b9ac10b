package capability

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/callback"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/table"
	"github.com/wippyai/wasm-bridge/value"
)

// FinalizationRegistry calls a host function with the held value of each
// collected target. The call runs on the instance's loop.
type FinalizationRegistry struct {
	reg *callback.Registry
}

func (s *set) callbacks() {
	for n := 0; n <= table.MaxWrapArity; n++ {
		key := table.WrapKey(n)
		s.add(fmt.Sprintf("wrap-%d", n), func(_ context.Context, _ api.Module, stack []uint64) {
			ref := u32(stack, 0)
			w := callback.Wrap(ref, key, s.env.Invoker())
			if err := callback.Register(s.env.Releases(), w, ref, w); err != nil {
				trap(err)
			}
			s.ret(stack, w)
		})
	}
	s.add("is-wrapped", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = boolean(callback.IsWrapped(s.val(stack, 0)))
	})
	s.add("unwrap", func(_ context.Context, _ api.Module, stack []uint64) {
		v := s.val(stack, 0)
		ref, ok := callback.Unwrap(v)
		if !ok {
			trap(mismatch("wrapped guest function", v))
		}
		stack[0] = api.EncodeU32(ref)
	})
	s.add("wrapper-deregister", func(_ context.Context, _ api.Module, stack []uint64) {
		w, ok := s.val(stack, 0).(*callback.Wrapper)
		stack[0] = boolean(ok && s.env.Releases().Unregister(w))
	})
	s.add("finalization-registry-new", func(_ context.Context, _ api.Module, stack []uint64) {
		fn := as[value.Func](s, stack, 0, "function")
		loop := s.env.Loop()
		logger := s.env.Logger()
		reg := callback.NewRegistry(func(held any) {
			posted := loop.Post(func(ctx context.Context) error {
				_, err := fn.Call(ctx, nil, []any{held})
				return err
			})
			if !posted {
				logger.Debug("finalization callback dropped after close")
			}
		})
		s.ret(stack, &FinalizationRegistry{reg: reg})
	})
	s.add("finalization-registry-register", func(_ context.Context, _ api.Module, stack []uint64) {
		r := as[*FinalizationRegistry](s, stack, 0, "FinalizationRegistry")
		target, held, token := s.val(stack, 1), s.val(stack, 2), s.val(stack, 3)
		if value.SameValue(target, held) && target != nil {
			trap(errors.InvalidInput(errors.PhaseCallback, "finalization target and held value must differ"))
		}
		if err := callback.RegisterValue(r.reg, target, held, token); err != nil {
			trap(err)
		}
		s.env.Logger().Debug("finalization registered", zap.Int("pending", r.reg.Len()))
	})
	s.add("finalization-registry-unregister", func(_ context.Context, _ api.Module, stack []uint64) {
		r := as[*FinalizationRegistry](s, stack, 0, "FinalizationRegistry")
		stack[0] = boolean(r.reg.Unregister(s.val(stack, 1)))
	})
}
