package runtime

import (
	"bytes"
	"context"
	stderrors "errors"
	goruntime "runtime"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/callback"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/handle"
	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/internal/wasmtest"
	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/table"
)

var (
	i32 = wasmtest.I32
	f64 = wasmtest.F64
	ts  = wasmtest.Types
	ns  = table.Namespace
)

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })
	return rt
}

func compile(t *testing.T, rt *Runtime, m *wasmtest.Module) *Module {
	t.Helper()
	mod, err := rt.Compile(context.Background(), m.Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return mod
}

func instantiate(t *testing.T, mod *Module, imports *Imports, opts Options) *Instance {
	t.Helper()
	inst, err := mod.Instantiate(context.Background(), imports, opts)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { inst.Close(context.Background()) })
	return inst
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// timerModule measures a string constant with the polyfill, then schedules a
// timeout of env.delay() ms whose token is that length. Completions go to
// env.done(token, value, flags).
func timerModule() *wasmtest.Module {
	m := wasmtest.New()
	delay := m.ImportFunc("env", "delay", nil, ts(f64))
	done := m.ImportFunc("env", "done", ts(i32, i32, i32), nil)
	setTimeout := m.ImportFunc(ns, "_400", ts(f64, i32), ts(i32))
	drop := m.ImportFunc(ns, "_28", ts(i32), nil)
	hello := m.ImportFunc(table.ConstNamespace, "hello", nil, ts(i32))
	length := m.ImportFunc(table.PolyfillNamespace, "length", ts(i32), ts(i32))

	main := m.Func(nil, nil, wasmtest.NewCode().
		Call(hello).LocalSet(0).
		LocalGet(0).Call(length).LocalSet(1).
		LocalGet(0).Call(drop).
		Call(delay).LocalGet(1).Call(setTimeout).Call(drop), i32, i32)
	cb := m.Func(ts(i32, i32, i32), nil, wasmtest.NewCode().
		LocalGet(0).LocalGet(1).LocalGet(2).Call(done))
	m.ExportFunc(loader.ExportMain, main)
	m.ExportFunc(loader.ExportCallback, cb)
	return m
}

type completion struct {
	token, value, flags uint32
	at                  time.Duration
}

func timerImports(start *time.Time, got *[]completion) *Imports {
	imports := NewImports()
	imports.RegisterFunc("env", "delay", func() float64 { return 50 })
	imports.RegisterFunc("env", "done", func(_ context.Context, token, v, flags uint32) {
		*got = append(*got, completion{token: token, value: v, flags: flags, at: time.Since(*start)})
	})
	return imports
}

func TestInvokeMain_TimerFiresOnce(t *testing.T) {
	ctx := testContext(t)
	rt := newRuntime(t)
	mod := compile(t, rt, timerModule())
	if !mod.Artifact().Features().Has(loader.FeatureStringBuiltins) {
		t.Fatalf("features = %s", mod.Artifact().Features())
	}

	var start time.Time
	var got []completion
	inst := instantiate(t, mod, timerImports(&start, &got), Options{})

	start = time.Now()
	if err := inst.InvokeMain(ctx); err != nil {
		t.Fatalf("InvokeMain: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("completions = %+v, want exactly one", got)
	}
	c := got[0]
	if c.token != 5 {
		t.Errorf("token = %d, want len(\"hello\")", c.token)
	}
	if c.at < 50*time.Millisecond {
		t.Errorf("fired after %v, want at least 50ms", c.at)
	}
	if c.flags&1 != 0 {
		t.Errorf("flags = %b, failure bit set", c.flags)
	}
	if c.flags&2 == 0 || c.value != 0 {
		t.Errorf("flags = %b value = %d, want absent value", c.flags, c.value)
	}
	if n := inst.Handles().Len(); n != 0 {
		t.Errorf("%d handles leaked", n)
	}
	if n := inst.Loop().Pending(); n != 0 {
		t.Errorf("%d ops still pending", n)
	}
}

func TestInvokeMain_Twice(t *testing.T) {
	ctx := testContext(t)
	rt := newRuntime(t)
	var start time.Time
	var got []completion
	inst := instantiate(t, compile(t, rt, timerModule()), timerImports(&start, &got), Options{})

	must(t, inst.InvokeMain(ctx))
	err := inst.InvokeMain(ctx)
	if !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("second InvokeMain: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("main ran twice: %d completions", len(got))
	}
}

func TestInvokeMain_MissingExport(t *testing.T) {
	rt := newRuntime(t)
	m := wasmtest.New()
	m.ImportFunc(ns, "_31", ts(f64), ts(i32))
	inst := instantiate(t, compile(t, rt, m), nil, Options{})

	err := inst.InvokeMain(testContext(t))
	if !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestInstantiate_LinkErrors(t *testing.T) {
	deferred := wasmtest.New()
	deferred.ImportFunc(ns, "_600", ts(i32), ts(i32))
	dynamic := wasmtest.New()
	dynamic.ImportFunc(ns, "_601", ts(i32, i32), ts(i32))

	var start time.Time
	var got []completion
	full := timerImports(&start, &got)

	wrongSig := NewImports()
	wrongSig.RegisterFunc("env", "delay", func() int32 { return 50 })
	wrongSig.RegisterFunc("env", "done", func(token, v, flags uint32) {})

	tests := []struct {
		name    string
		module  *wasmtest.Module
		imports *Imports
		opts    Options
		missing bool
	}{
		{name: "unsupported feature", module: timerModule(), imports: full, opts: Options{Features: loader.FeatureWASI}},
		{name: "deferred loader missing", module: deferred},
		{name: "dynamic loader missing", module: dynamic},
		{name: "unresolved import", module: timerModule(), missing: true},
		{name: "signature mismatch", module: timerModule(), imports: wrongSig, missing: true},
	}

	rt := newRuntime(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := compile(t, rt, tt.module)
			inst, err := mod.Instantiate(context.Background(), tt.imports, tt.opts)
			if inst != nil {
				inst.Close(context.Background())
				t.Fatal("got an instance from a failed link")
			}
			if !errors.IsLinkError(err) {
				t.Fatalf("err = %v, want link error", err)
			}
			var mi *errors.MissingImportsError
			if got := stderrors.As(err, &mi); got != tt.missing {
				t.Errorf("missing imports reported = %v, want %v (%v)", got, tt.missing, err)
			}
		})
	}
}

func TestInstantiate_LoaderCallbacks(t *testing.T) {
	rt := newRuntime(t)
	m := wasmtest.New()
	m.ImportFunc(ns, "_600", ts(i32), ts(i32))
	m.ImportFunc(ns, "_601", ts(i32, i32), ts(i32))
	mod := compile(t, rt, m)

	inst := instantiate(t, mod, nil, Options{
		LoadDeferredWasm: func(ctx context.Context, name string) ([]byte, error) {
			return nil, nil
		},
		LoadDynamicModule: func(ctx context.Context, wasm, js string) ([]byte, any, error) {
			return nil, nil, nil
		},
	})
	if inst.Memory() != nil {
		t.Error("module without memory reports one")
	}
	if inst.MemoryBuffer() != nil {
		t.Error("MemoryBuffer without memory")
	}
}

// reentrantModule wraps guest function 42 with arity one, hands the wrapper
// to env.keep and calls it with 20 through the call import while main is
// still running. The trampoline reports (ref, argc) to env.inner and returns
// its argument; main passes the result to env.seen.
func reentrantModule() *wasmtest.Module {
	m := wasmtest.New()
	seen := m.ImportFunc("env", "seen", ts(f64), nil)
	inner := m.ImportFunc("env", "inner", ts(i32, i32), nil)
	keep := m.ImportFunc("env", "keep", ts(i32), nil)
	wrap1 := m.ImportFunc(ns, "_501", ts(i32), ts(i32))
	call := m.ImportFunc(ns, "_22", ts(i32, i32, i32), ts(i32))
	fromNumber := m.ImportFunc(ns, "_31", ts(f64), ts(i32))
	toNumber := m.ImportFunc(ns, "_32", ts(i32), ts(f64))
	dup := m.ImportFunc(ns, "_29", ts(i32), ts(i32))
	drop := m.ImportFunc(ns, "_28", ts(i32), nil)

	main := m.Func(nil, nil, wasmtest.NewCode().
		I32Const(42).Call(wrap1).LocalSet(0).
		LocalGet(0).Call(keep).
		F64Const(20).Call(fromNumber).LocalSet(1).
		LocalGet(0).I32Const(0).LocalGet(1).Call(call).LocalSet(2).
		LocalGet(2).Call(toNumber).Call(seen).
		LocalGet(2).Call(drop).
		LocalGet(1).Call(drop).
		LocalGet(0).Call(drop), i32, i32, i32)
	trampoline := m.Func(ts(i32, i32, i32), ts(i32), wasmtest.NewCode().
		LocalGet(0).LocalGet(1).Call(inner).
		LocalGet(2).Call(dup))
	m.ExportFunc(loader.ExportMain, main)
	m.ExportFunc(loader.TrampolineName(table.WrapKey(1)), trampoline)
	return m
}

type reentrantHost struct {
	inst      *Instance
	kept      any
	seen      []float64
	refs      []uint32
	argcs     []uint32
	reentrant []bool
}

func (h *reentrantHost) imports(t *testing.T) *Imports {
	imports := NewImports()
	must(t, imports.RegisterFunc("env", "seen", func(x float64) { h.seen = append(h.seen, x) }))
	must(t, imports.RegisterFunc("env", "inner", func(ctx context.Context, ref, argc uint32) {
		h.refs = append(h.refs, ref)
		h.argcs = append(h.argcs, argc)
		h.reentrant = append(h.reentrant, h.inst.Reentrant(ctx))
	}))
	must(t, imports.RegisterFunc("env", "keep", func(w uint32) {
		h.kept, _ = h.inst.Handles().Get(handle.Handle(w))
	}))
	return imports
}

func TestInvokeMain_ReentrantWrapper(t *testing.T) {
	ctx := testContext(t)
	rt := newRuntime(t)
	h := &reentrantHost{}
	h.inst = instantiate(t, compile(t, rt, reentrantModule()), h.imports(t), Options{})

	must(t, h.inst.InvokeMain(ctx))

	if len(h.seen) != 1 || h.seen[0] != 20 {
		t.Fatalf("seen = %v, want [20]", h.seen)
	}
	if len(h.refs) != 1 || h.refs[0] != 42 || h.argcs[0] != 1 {
		t.Fatalf("trampoline got refs %v argc %v", h.refs, h.argcs)
	}
	if !h.reentrant[0] {
		t.Error("nested call did not carry the instance frame")
	}
	fns := h.inst.fns[loader.TrampolineName(table.WrapKey(1))]
	if len(fns) != 2 || fns[0] != nil || fns[1] == nil {
		t.Errorf("trampoline bound at depths %v, want depth 1 only", fns)
	}
	if n := h.inst.Handles().Len(); n != 0 {
		t.Errorf("%d handles leaked", n)
	}

	// the host keeps the wrapper and calls it after main returned
	if !callback.IsWrapped(h.kept) {
		t.Fatalf("kept %T, want a wrapper", h.kept)
	}
	w := h.kept.(*callback.Wrapper)
	if ref, _ := callback.Unwrap(w); ref != 42 {
		t.Errorf("unwrap = %d", ref)
	}
	v, err := w.Call(ctx, nil, []any{float64(7), "extra"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != float64(7) {
		t.Errorf("result = %v, want 7", v)
	}
	if len(h.reentrant) != 2 || h.reentrant[1] {
		t.Errorf("top-level call marked re-entrant: %v", h.reentrant)
	}
	if h.argcs[1] != 1 {
		t.Errorf("argc = %d, want arguments clipped to arity", h.argcs[1])
	}
}

func TestInstances_Independent(t *testing.T) {
	ctx := testContext(t)
	rt := newRuntime(t)
	mod := compile(t, rt, reentrantModule())

	a := &reentrantHost{}
	a.inst = instantiate(t, mod, a.imports(t), Options{})
	b := &reentrantHost{}
	b.inst = instantiate(t, mod, b.imports(t), Options{})

	must(t, a.inst.InvokeMain(ctx))
	if len(b.seen) != 0 {
		t.Fatal("running one instance reached the other's imports")
	}
	must(t, a.inst.Close(ctx))
	must(t, b.inst.InvokeMain(ctx))
	if len(a.seen) != 1 || len(b.seen) != 1 {
		t.Errorf("seen a=%v b=%v", a.seen, b.seen)
	}
	if a.kept == b.kept {
		t.Error("instances share a wrapper")
	}
}

func TestInvokeMain_Args(t *testing.T) {
	rt := newRuntime(t)
	m := wasmtest.New()
	count := m.ImportFunc("env", "count", ts(i32), nil)
	first := m.ImportFunc("env", "first", ts(i32), nil)
	length := m.ImportFunc(ns, "_4", ts(i32), ts(i32))
	indexGet := m.ImportFunc(ns, "_5", ts(i32, i32), ts(i32))
	main := m.Func(ts(i32), nil, wasmtest.NewCode().
		LocalGet(0).Call(length).Call(count).
		LocalGet(0).I32Const(0).Call(indexGet).Call(first))
	m.ExportFunc(loader.ExportMain, main)

	var inst *Instance
	var n uint32
	var arg string
	imports := NewImports()
	must(t, imports.RegisterFunc("env", "count", func(v uint32) { n = v }))
	must(t, imports.RegisterFunc("env", "first", func(h uint32) {
		v, _ := inst.Handles().Get(handle.Handle(h))
		if s, ok := v.(hoststring.String); ok {
			arg = s.String()
		}
		inst.Handles().Release(handle.Handle(h))
	}))
	inst = instantiate(t, compile(t, rt, m), imports, Options{})

	must(t, inst.InvokeMain(testContext(t), "alpha", "beta"))
	if n != 2 || arg != "alpha" {
		t.Errorf("count = %d first = %q", n, arg)
	}
	if l := inst.Handles().Len(); l != 0 {
		t.Errorf("argument array leaked: %d handles", l)
	}
}

func TestInvokeMain_TrapCarriesHostError(t *testing.T) {
	rt := newRuntime(t)
	m := wasmtest.New()
	fromNumber := m.ImportFunc(ns, "_31", ts(f64), ts(i32))
	unwrap := m.ImportFunc(ns, "_511", ts(i32), ts(i32))
	main := m.Func(nil, nil, wasmtest.NewCode().F64Const(1).Call(fromNumber).Call(unwrap).Drop())
	m.ExportFunc(loader.ExportMain, main)
	inst := instantiate(t, compile(t, rt, m), nil, Options{})

	err := inst.InvokeMain(testContext(t))
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindGuestTrap}) {
		t.Fatalf("err = %v, want guest trap", err)
	}
	if !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("host error lost: %v", err)
	}
}

func TestInvoke_TokenOnlyCallback(t *testing.T) {
	rt := newRuntime(t)
	m := wasmtest.New()
	done := m.ImportFunc("env", "done", ts(i32), nil)
	microtask := m.ImportFunc(ns, "_404", ts(i32), nil)
	main := m.Func(nil, nil, wasmtest.NewCode().I32Const(9).Call(microtask))
	cb := m.Func(ts(i32), nil, wasmtest.NewCode().LocalGet(0).Call(done))
	m.ExportFunc(loader.ExportMain, main)
	m.ExportFunc(loader.ExportCallback, cb)

	var tokens []uint32
	imports := NewImports()
	must(t, imports.RegisterFunc("env", "done", func(token uint32) { tokens = append(tokens, token) }))
	inst := instantiate(t, compile(t, rt, m), imports, Options{})

	must(t, inst.InvokeMain(testContext(t)))
	if len(tokens) != 1 || tokens[0] != 9 {
		t.Errorf("tokens = %v", tokens)
	}
}

func dropModule() *wasmtest.Module {
	m := wasmtest.New()
	drop := m.ImportFunc(ns, "_28", ts(i32), nil)
	main := m.Func(nil, nil, wasmtest.NewCode().I32Const(5).Call(drop))
	m.ExportFunc(loader.ExportMain, main)
	return m
}

func TestMergePolicy(t *testing.T) {
	rt := newRuntime(t)
	mod := compile(t, rt, dropModule())

	var dropped []uint32
	imports := NewImports()
	must(t, imports.Override(28, func(_ context.Context, _ api.Module, stack []uint64) {
		dropped = append(dropped, api.DecodeU32(stack[0]))
	}))

	if _, err := mod.Instantiate(context.Background(), imports, Options{}); !errors.IsLinkError(err) {
		t.Fatalf("reject policy: err = %v", err)
	}

	inst := instantiate(t, mod, imports, Options{MergePolicy: table.MergeOverride})
	must(t, inst.InvokeMain(testContext(t)))
	if len(dropped) != 1 || dropped[0] != 5 {
		t.Errorf("override saw %v", dropped)
	}
}

func TestMergePolicy_Reserved(t *testing.T) {
	rt := newRuntime(t)
	m := wasmtest.New()
	hello := m.ImportFunc(table.ConstNamespace, "hello", nil, ts(i32))
	length := m.ImportFunc(table.PolyfillNamespace, "length", ts(i32), ts(i32))
	main := m.Func(nil, nil, wasmtest.NewCode().Call(hello).Call(length).Drop())
	m.ExportFunc(loader.ExportMain, main)
	mod := compile(t, rt, m)

	var calls atomic.Int32
	imports := NewImports()
	must(t, imports.RegisterStack(table.PolyfillNamespace, "length",
		func(_ context.Context, _ api.Module, stack []uint64) {
			calls.Add(1)
			stack[0] = 0
		}, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}))

	_, err := mod.Instantiate(context.Background(), imports, Options{MergePolicy: table.MergeOverride})
	if !errors.IsLinkError(err) {
		t.Fatalf("override without AllowReserved: err = %v", err)
	}

	inst := instantiate(t, mod, imports, Options{MergePolicy: table.MergeOverride, AllowReserved: true})
	must(t, inst.InvokeMain(testContext(t)))
	if calls.Load() != 1 {
		t.Errorf("reserved override called %d times", calls.Load())
	}
}

func TestWrapperRelease(t *testing.T) {
	rt := newRuntime(t)
	m := wasmtest.New()
	released := m.ImportFunc("env", "released", ts(i32), nil)
	wrap0 := m.ImportFunc(ns, "_500", ts(i32), ts(i32))
	drop := m.ImportFunc(ns, "_28", ts(i32), nil)
	main := m.Func(nil, nil, wasmtest.NewCode().I32Const(77).Call(wrap0).Call(drop))
	trampoline := m.Func(ts(i32, i32), ts(i32), wasmtest.NewCode().I32Const(0))
	release := m.Func(ts(i32), nil, wasmtest.NewCode().LocalGet(0).Call(released))
	m.ExportFunc(loader.ExportMain, main)
	m.ExportFunc(loader.TrampolineName(table.WrapKey(0)), trampoline)
	m.ExportFunc(loader.ExportRelease, release)

	var refs []uint32
	imports := NewImports()
	must(t, imports.RegisterFunc("env", "released", func(ref uint32) { refs = append(refs, ref) }))
	inst := instantiate(t, compile(t, rt, m), imports, Options{})

	ctx := testContext(t)
	must(t, inst.InvokeMain(ctx))
	for i := 0; i < 200 && len(refs) == 0; i++ {
		goruntime.GC()
		time.Sleep(5 * time.Millisecond)
		must(t, inst.Run(ctx))
	}
	if len(refs) != 1 || refs[0] != 77 {
		t.Fatalf("released = %v, want [77]", refs)
	}
	if n := inst.Releases().Len(); n != 0 {
		t.Errorf("%d registrations still pending", n)
	}
}

func TestWrapperDeregister(t *testing.T) {
	rt := newRuntime(t)
	m := wasmtest.New()
	released := m.ImportFunc("env", "released", ts(i32), nil)
	record := m.ImportFunc("env", "record", ts(i32), nil)
	wrap0 := m.ImportFunc(ns, "_500", ts(i32), ts(i32))
	dereg := m.ImportFunc(ns, "_515", ts(i32), ts(i32))
	drop := m.ImportFunc(ns, "_28", ts(i32), nil)
	main := m.Func(nil, nil, wasmtest.NewCode().
		I32Const(78).Call(wrap0).LocalSet(0).
		LocalGet(0).Call(dereg).Call(record).
		LocalGet(0).Call(dereg).Call(record).
		I32Const(0).Call(dereg).Call(record).
		LocalGet(0).Call(drop), i32)
	trampoline := m.Func(ts(i32, i32), ts(i32), wasmtest.NewCode().I32Const(0))
	release := m.Func(ts(i32), nil, wasmtest.NewCode().LocalGet(0).Call(released))
	m.ExportFunc(loader.ExportMain, main)
	m.ExportFunc(loader.TrampolineName(table.WrapKey(0)), trampoline)
	m.ExportFunc(loader.ExportRelease, release)

	var refs, results []uint32
	imports := NewImports()
	must(t, imports.RegisterFunc("env", "released", func(ref uint32) { refs = append(refs, ref) }))
	must(t, imports.RegisterFunc("env", "record", func(v uint32) { results = append(results, v) }))
	inst := instantiate(t, compile(t, rt, m), imports, Options{})

	ctx := testContext(t)
	must(t, inst.InvokeMain(ctx))
	if want := []uint32{1, 0, 0}; !slices.Equal(results, want) {
		t.Fatalf("deregister results = %v, want %v", results, want)
	}
	if n := inst.Releases().Len(); n != 0 {
		t.Errorf("%d registrations still pending", n)
	}
	for i := 0; i < 20; i++ {
		goruntime.GC()
		time.Sleep(5 * time.Millisecond)
		must(t, inst.Run(ctx))
	}
	if len(refs) != 0 {
		t.Errorf("released = %v after deregistration", refs)
	}
}

func TestClose(t *testing.T) {
	ctx := testContext(t)
	rt := newRuntime(t)
	inst, err := compile(t, rt, dropModule()).Instantiate(ctx, nil, Options{})
	must(t, err)

	must(t, inst.Close(ctx))
	must(t, inst.Close(ctx))
	if _, err := inst.CallExport(ctx, loader.ExportMain); !stderrors.Is(err, errors.ErrClosed) {
		t.Errorf("CallExport after close: %v", err)
	}
	if err := inst.Run(ctx); !stderrors.Is(err, errors.ErrClosed) {
		t.Errorf("Run after close: %v", err)
	}
	if err := inst.Context().Err(); err == nil {
		t.Error("instance context still live after close")
	}
}

func TestCompileStreaming(t *testing.T) {
	rt := newRuntime(t)
	bin := dropModule().Bytes()
	mod, err := rt.CompileStreaming(context.Background(), bytes.NewReader(bin))
	must(t, err)
	if mod.Artifact().Len() != len(bin) {
		t.Errorf("len = %d, want %d", mod.Artifact().Len(), len(bin))
	}
	if _, err := rt.Compile(context.Background(), []byte("not wasm")); !errors.IsCompileError(err) {
		t.Errorf("Compile(garbage) = %v", err)
	}
}
