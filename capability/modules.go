package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/view"
)

func (s *set) modules() {
	s.add("load-deferred", func(_ context.Context, _ api.Module, stack []uint64) {
		name := value.ToString(s.val(stack, 0))
		p := s.env.Loop().NewPromise()
		s.background(p, func() (any, error) {
			b, err := s.env.LoadDeferredWasm(s.env.Context(), name)
			if err != nil {
				return nil, err
			}
			return view.ArrayBufferOf(b), nil
		})
		s.ret(stack, p)
	})
	s.add("load-dynamic", func(_ context.Context, _ api.Module, stack []uint64) {
		wasm := value.ToString(s.val(stack, 0))
		js := value.ToString(s.val(stack, 1))
		p := s.env.Loop().NewPromise()
		s.background(p, func() (any, error) {
			b, side, err := s.env.LoadDynamicModule(s.env.Context(), wasm, js)
			if err != nil {
				return nil, err
			}
			return value.NewArray(view.ArrayBufferOf(b), side), nil
		})
		s.ret(stack, p)
	})
}

func (s *set) console() {
	s.add("print", s.printer("print", zapcore.InfoLevel))
	s.add("console-log", s.printer("log", zapcore.InfoLevel))
	s.add("console-warn", s.printer("warn", zapcore.WarnLevel))
	s.add("console-error", s.printer("error", zapcore.ErrorLevel))
	s.add("console-debug", s.printer("debug", zapcore.DebugLevel))

	s.add("date-now", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeF64(float64(time.Now().UnixMilli()))
	})
	s.add("monotonic-micros", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeF64(float64(time.Since(s.env.Started()).Nanoseconds()) / 1e3)
	})
}

// printer writes a line to Stdout, or logs it at level when no writer is set.
func (s *set) printer(channel string, level zapcore.Level) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		msg := value.ToString(s.val(stack, 0))
		if w := s.env.Stdout(); w != nil {
			if _, err := fmt.Fprintln(w, msg); err != nil {
				s.env.Logger().Warn("console write failed", zap.Error(err))
			}
			return
		}
		if ce := s.env.Logger().Check(level, msg); ce != nil {
			ce.Write(zap.String("channel", channel))
		}
	}
}
