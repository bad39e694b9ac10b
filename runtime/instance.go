package runtime

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/async"
	"github.com/wippyai/wasm-bridge/callback"
	"github.com/wippyai/wasm-bridge/capability"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/handle"
	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/table"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/view"
)

// Options configure one instantiation.
type Options struct {
	// LoadDeferredWasm returns the bytes of a split-off module. Required when
	// the module imports load-deferred.
	LoadDeferredWasm func(ctx context.Context, name string) ([]byte, error)
	// LoadDynamicModule returns a side module and its companion handle.
	// Required when the module imports load-dynamic.
	LoadDynamicModule func(ctx context.Context, wasm, js string) ([]byte, any, error)

	// Features the host supports. Zero means all of them.
	Features loader.Feature

	// Global is what global-this returns. Defaults to an empty object.
	Global value.Object
	// Stdout receives console output and WASI stdout. Nil routes console
	// output to the logger.
	Stdout io.Writer
	Logger *zap.Logger
	// HTTPClient serves fetch. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// MergePolicy and AllowReserved control how additional imports merge
	// with the built-in table.
	MergePolicy   table.MergePolicy
	AllowReserved bool
}

// Instance is a linked, running guest. It is not safe for concurrent use;
// top-level calls from different goroutines are serialised.
type Instance struct {
	module   *Module
	wr       wazero.Runtime
	guest    api.Module
	memory   *engine.WazeroMemory
	handles  *handle.Table
	loop     *async.Loop
	releases *callback.Registry
	opts     Options
	global   value.Object
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	started  time.Time
	fns      map[string][]api.Function

	callbackArity int
	hasRelease    bool

	mu         sync.Mutex
	fnMu       sync.Mutex
	mainCalled atomic.Bool
	closed     atomic.Bool
}

// checkRequirements fails before any resource is created when the host
// cannot satisfy what the module asks for.
func (m *Module) checkRequirements(opts Options) error {
	art := m.artifact
	supported := opts.Features
	if supported == 0 {
		supported = loader.AllFeatures
	}
	var errs error
	if missing := art.Features() &^ supported; missing != 0 {
		errs = multierr.Append(errs, errors.New(errors.PhaseLink, errors.KindLink).
			Detail("module requires unsupported features: %s", missing).
			Build())
	}
	if art.ImportsKey(table.KeyLoadDeferred) && opts.LoadDeferredWasm == nil {
		errs = multierr.Append(errs, errors.New(errors.PhaseLink, errors.KindLink).
			Path(table.Namespace, table.ImportName(table.KeyLoadDeferred)).
			Detail("module loads deferred code but LoadDeferredWasm is not set").
			Build())
	}
	if art.ImportsKey(table.KeyLoadDynamic) && opts.LoadDynamicModule == nil {
		errs = multierr.Append(errs, errors.New(errors.PhaseLink, errors.KindLink).
			Path(table.Namespace, table.ImportName(table.KeyLoadDynamic)).
			Detail("module loads dynamic modules but LoadDynamicModule is not set").
			Build())
	}
	return errs
}

// Instantiate links the module against the built-in table plus imports and
// instantiates it. Nothing is returned on failure; every resource created
// along the way is closed.
func (m *Module) Instantiate(ctx context.Context, imports *Imports, opts Options) (inst *Instance, err error) {
	art := m.artifact
	logger := opts.Logger
	if logger == nil {
		logger = m.runtime.logger
	}
	logger = logger.With(zap.String("module", art.ID()[:12]))

	if err := m.checkRequirements(opts); err != nil {
		return nil, err
	}

	wr, err := m.runtime.engine.NewRuntime(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLink, errors.KindLink, err, "create runtime")
	}

	ictx, cancel := context.WithCancel(context.Background())
	i := &Instance{
		module:  m,
		wr:      wr,
		handles: handle.NewTable(),
		opts:    opts,
		global:  opts.Global,
		logger:  logger,
		ctx:     ictx,
		cancel:  cancel,
		started: time.Now(),
		fns:     make(map[string][]api.Function),
	}
	if i.global == nil {
		i.global = value.NewObject()
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		i.handles.Subscribe(handle.LogObserver{Logger: logger})
	}
	i.loop = async.NewLoop(i, logger)
	i.releases = callback.NewRegistry(i.released)
	defer func() {
		if err != nil {
			err = multierr.Append(err, i.shutdown(ctx))
			inst = nil
		}
	}()

	var provided []string
	if art.Features().Has(loader.FeatureWASI) {
		if err := engine.InstantiateWASI(ctx, wr); err != nil {
			return nil, errors.Wrap(errors.PhaseLink, errors.KindLink, err, "instantiate WASI")
		}
		provided = append(provided, loader.WASIModule)
	}

	tbl, err := table.Assemble(m.runtime.catalog, capability.Set(i), imports.Entries(), table.Options{
		Logger:        logger,
		Policy:        opts.MergePolicy,
		AllowReserved: opts.AllowReserved,
		Polyfill:      art.Features().Has(loader.FeatureStringBuiltins),
	})
	if err != nil {
		return nil, err
	}
	tbl.AddConstants(art.Imports(), func(_ context.Context, s string) uint32 {
		return uint32(i.handles.Insert(hoststring.FromGo(s)))
	})
	if err := tbl.Link(art.Imports(), provided...); err != nil {
		return nil, err
	}
	if _, err := tbl.Instantiate(ctx, wr); err != nil {
		return nil, err
	}

	compiled, err := wr.CompileModule(ctx, art.Bytes())
	if err != nil {
		return nil, errors.Compile("compile guest", err)
	}
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithSysWalltime().
		WithSysNanotime()
	if opts.Stdout != nil {
		cfg = cfg.WithStdout(opts.Stdout)
	}
	guest, err := wr.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, errors.Link("instantiate guest", err)
	}
	i.guest = guest

	if art.HasMemory() {
		if mem := guest.ExportedMemory(loader.ExportMemory); mem != nil {
			i.memory = engine.NewMemory(mem)
		}
	}
	if exp, ok := art.Export(loader.ExportCallback); ok {
		i.callbackArity = len(exp.Params)
	}
	_, i.hasRelease = art.Export(loader.ExportRelease)

	logger.Debug("instance ready",
		zap.Int("imports", len(art.Imports())),
		zap.Int("table", tbl.Len()),
		zap.Stringer("features", art.Features()),
		zap.Bool("memory", i.memory != nil))
	return i, nil
}

// InvokeMain runs the guest's main routine with args, then drives the event
// loop until nothing is pending or ctx ends. It may be called once.
func (i *Instance) InvokeMain(ctx context.Context, args ...string) error {
	if !i.mainCalled.CompareAndSwap(false, true) {
		return errors.InvalidInput(errors.PhaseRuntime, "main has already been invoked")
	}
	exp, ok := i.module.artifact.Export(loader.ExportMain)
	if !ok {
		return errors.NotFound(errors.PhaseRuntime, "export", loader.ExportMain)
	}

	var params []uint64
	var argv handle.Handle
	if len(exp.Params) == 1 {
		items := make([]any, len(args))
		for j, a := range args {
			items[j] = hoststring.FromGo(a)
		}
		argv = i.handles.Insert(value.NewArray(items...))
		params = append(params, api.EncodeU32(uint32(argv)))
	}
	_, err := i.CallExport(ctx, loader.ExportMain, params...)
	if argv != handle.Undefined {
		i.handles.Release(argv)
	}
	if err != nil {
		return err
	}
	return i.Run(ctx)
}

// Run drives the event loop until nothing is pending or ctx ends.
func (i *Instance) Run(ctx context.Context) error {
	if i.closed.Load() {
		return errors.Closed(errors.PhaseRuntime, "instance")
	}
	return i.loop.Run(ctx)
}

// Invoke delivers an async completion through $invokeCallback. The value
// handle is borrowed for the duration of the call.
func (i *Instance) Invoke(ctx context.Context, c async.Completion) error {
	if i.callbackArity == 1 {
		_, err := i.CallExport(ctx, loader.ExportCallback, api.EncodeU32(c.Token))
		return err
	}
	var flags uint32
	if c.Failed {
		flags |= 1
	}
	if c.Absent {
		flags |= 2
	}
	h := i.handles.Insert(c.Value)
	defer i.handles.Release(h)
	_, err := i.CallExport(ctx, loader.ExportCallback,
		api.EncodeU32(c.Token), api.EncodeU32(uint32(h)), api.EncodeU32(flags))
	return err
}

// InvokeWrapped calls the trampoline of w with ref, the argument count and
// the argument handles. Arguments past the wrapper's arity are dropped and
// missing ones are undefined. Argument handles are borrowed; the result
// handle is owned by the caller and released here.
func (i *Instance) InvokeWrapped(ctx context.Context, w *callback.Wrapper, args []any) (any, error) {
	n := int(w.Key() - table.WrapKey(0))
	if n < 0 || n > table.MaxWrapArity {
		return nil, errors.InvalidInput(errors.PhaseCallback, "wrapper key out of range")
	}
	argc := min(len(args), n)
	params := make([]uint64, n+2)
	params[0] = api.EncodeU32(w.Ref())
	params[1] = api.EncodeU32(uint32(argc))
	borrowed := make([]handle.Handle, 0, argc)
	for j := 0; j < argc; j++ {
		h := i.handles.Insert(args[j])
		borrowed = append(borrowed, h)
		params[j+2] = api.EncodeU32(uint32(h))
	}
	defer func() {
		for _, h := range borrowed {
			i.handles.Release(h)
		}
	}()

	res, err := i.CallExport(ctx, loader.TrampolineName(w.Key()), params...)
	if err != nil {
		return nil, err
	}
	h := handle.Handle(api.DecodeU32(res[0]))
	v, err := i.handles.MustGet(h)
	i.handles.Release(h)
	return v, err
}

// released runs on the cleanup goroutine when a wrapper is collected.
func (i *Instance) released(held any) {
	ref, ok := held.(uint32)
	if !ok {
		return
	}
	if !i.hasRelease {
		i.logger.Debug("wrapper collected", zap.Uint32("ref", ref))
		return
	}
	i.loop.Post(func(ctx context.Context) error {
		_, err := i.CallExport(ctx, loader.ExportRelease, api.EncodeU32(ref))
		return err
	})
}

// MemoryBuffer returns a fresh buffer over guest memory, nil when the guest
// exports none. Buffers taken before the memory grew are detached.
func (i *Instance) MemoryBuffer() *view.MemoryBuffer {
	if i.memory == nil {
		return nil
	}
	return view.NewMemoryBuffer(i.memory, i.module.artifact.SharedMemory())
}

// Module returns the module the instance was created from.
func (i *Instance) Module() *Module { return i.module }

// Close stops the loop, withdraws pending finalizers, drops every handle and
// closes the guest and its host modules.
func (i *Instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := i.shutdown(ctx)
	i.logger.Debug("instance closed", zap.Error(err))
	return err
}

func (i *Instance) shutdown(ctx context.Context) error {
	i.closed.Store(true)
	i.cancel()
	i.loop.Close()
	i.releases.Close()
	return closeAll(ctx,
		i.wr.Close,
		func(context.Context) error { return i.handles.Close() })
}

// Env

func (i *Instance) Handles() *handle.Table { return i.handles }

func (i *Instance) Memory() wasmbridge.Memory {
	if i.memory == nil {
		return nil
	}
	return i.memory
}

func (i *Instance) SharedMemory() bool           { return i.module.artifact.SharedMemory() }
func (i *Instance) Loop() *async.Loop            { return i.loop }
func (i *Instance) Invoker() callback.Invoker    { return i }
func (i *Instance) Releases() *callback.Registry { return i.releases }
func (i *Instance) Global() value.Object         { return i.global }
func (i *Instance) Logger() *zap.Logger          { return i.logger }
func (i *Instance) Stdout() io.Writer            { return i.opts.Stdout }
func (i *Instance) Context() context.Context     { return i.ctx }
func (i *Instance) Started() time.Time           { return i.started }

func (i *Instance) HTTPClient() *http.Client {
	if i.opts.HTTPClient != nil {
		return i.opts.HTTPClient
	}
	return http.DefaultClient
}

func (i *Instance) LoadDeferredWasm(ctx context.Context, name string) ([]byte, error) {
	if i.opts.LoadDeferredWasm == nil {
		return nil, errors.Unsupported(errors.PhaseLoad, "deferred module loading")
	}
	return i.opts.LoadDeferredWasm(ctx, name)
}

func (i *Instance) LoadDynamicModule(ctx context.Context, wasm, js string) ([]byte, any, error) {
	if i.opts.LoadDynamicModule == nil {
		return nil, nil, errors.Unsupported(errors.PhaseLoad, "dynamic module loading")
	}
	return i.opts.LoadDynamicModule(ctx, wasm, js)
}
