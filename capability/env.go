package capability

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/async"
	"github.com/wippyai/wasm-bridge/callback"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/handle"
	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/value"
)

// Env is the per-instance state every capability closes over.
type Env interface {
	Handles() *handle.Table
	// Memory is the guest's exported linear memory, nil when it has none.
	Memory() wasmbridge.Memory
	SharedMemory() bool
	Loop() *async.Loop
	Invoker() callback.Invoker
	// Releases is the registry that tells the guest when a wrapper is collected.
	Releases() *callback.Registry
	// CallExport calls a guest export, honouring re-entrancy.
	CallExport(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	Global() value.Object
	Logger() *zap.Logger
	// Stdout receives console output; nil routes it to the logger.
	Stdout() io.Writer
	HTTPClient() *http.Client
	// Context is cancelled when the instance closes.
	Context() context.Context
	Started() time.Time
	LoadDeferredWasm(ctx context.Context, name string) ([]byte, error)
	LoadDynamicModule(ctx context.Context, wasm, js string) ([]byte, any, error)
}

// Set returns the implementation of every catalog capability, keyed by
// capability name.
func Set(env Env) map[string]api.GoModuleFunc {
	s := &set{env: env, impls: make(map[string]api.GoModuleFunc, 256)}
	s.values()
	s.views()
	s.strings()
	s.polyfill()
	s.timers()
	s.promises()
	s.fetch()
	s.callbacks()
	s.modules()
	s.console()
	s.passthrough()
	return s.impls
}

type set struct {
	env   Env
	impls map[string]api.GoModuleFunc
}

func (s *set) add(name string, fn api.GoModuleFunc) {
	s.impls[name] = fn
}

// trap aborts the current guest call with err. wazero recovers the panic and
// returns it, wrapped, from the outermost guest call.
func trap(err error) {
	panic(err)
}

func (s *set) val(stack []uint64, i int) any {
	v, err := s.env.Handles().MustGet(handle.Handle(api.DecodeU32(stack[i])))
	if err != nil {
		trap(err)
	}
	return v
}

func (s *set) handle(v any) uint64 {
	return api.EncodeU32(uint32(s.env.Handles().Insert(v)))
}

func (s *set) ret(stack []uint64, v any) {
	stack[0] = s.handle(v)
}

func (s *set) str(stack []uint64, i int) hoststring.String {
	v := s.val(stack, i)
	str, ok := hoststring.Coerce(v)
	if !ok {
		trap(mismatch("string", v))
	}
	return str
}

func (s *set) object(stack []uint64, i int) value.Object {
	v := s.val(stack, i)
	o, ok := v.(value.Object)
	if !ok {
		trap(mismatch("object", v))
	}
	return o
}

func (s *set) memory() wasmbridge.Memory {
	mem := s.env.Memory()
	if mem == nil {
		trap(errors.Unsupported(errors.PhaseHost, "guest exports no memory"))
	}
	return mem
}

// as returns argument i as T or traps.
func as[T any](s *set, stack []uint64, i int, what string) T {
	v := s.val(stack, i)
	t, ok := v.(T)
	if !ok {
		trap(mismatch(what, v))
	}
	return t
}

func mismatch(want string, got any) error {
	return errors.New(errors.PhaseHost, errors.KindInvalidInput).
		Value(got).
		Detail("expected %s, got %s", want, value.Classify(got)).
		Build()
}

func u32(stack []uint64, i int) uint32 { return api.DecodeU32(stack[i]) }

func i32(stack []uint64, i int) int32 { return api.DecodeI32(stack[i]) }

func f64(stack []uint64, i int) float64 { return api.DecodeF64(stack[i]) }

func flag(stack []uint64, i int) bool { return api.DecodeU32(stack[i]) != 0 }

func boolean(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// args unpacks an argument array handle; undefined means no arguments.
func (s *set) args(stack []uint64, i int) []any {
	switch x := s.val(stack, i).(type) {
	case nil:
		return nil
	case *value.Array:
		return x.Items()
	case []any:
		return x
	default:
		trap(mismatch("array", x))
	}
	return nil
}
