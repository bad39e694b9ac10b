package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// CacheDir persists compiled code across processes. Empty keeps the
	// cache in memory for the engine's lifetime.
	CacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	// Required for guests that declare shared memory.
	EnableThreads bool
}

// Engine creates wazero runtimes that share one compilation cache.
// Every instance gets its own runtime, so host modules registered for
// one instance never leak into another; compiled code is reused through
// the cache.
type Engine struct {
	cache  wazero.CompilationCache
	cfg    Config
	mu     sync.Mutex
	closed bool
}

// New creates an engine. A nil cfg uses defaults.
func New(cfg *Config) (*Engine, error) {
	e := &Engine{}
	if cfg != nil {
		e.cfg = *cfg
	}

	if e.cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(e.cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("compilation cache %s: %w", e.cfg.CacheDir, err)
		}
		e.cache = cache
	} else {
		e.cache = wazero.NewCompilationCache()
	}

	Logger().Debug("engine created",
		zap.Uint32("memory_limit_pages", e.cfg.MemoryLimitPages),
		zap.Bool("threads", e.cfg.EnableThreads),
		zap.String("cache_dir", e.cfg.CacheDir))
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Features returns the core features enabled for every runtime.
func (e *Engine) Features() api.CoreFeatures {
	if e.cfg.EnableThreads {
		return api.CoreFeaturesV2 | experimental.CoreFeaturesThreads
	}
	return api.CoreFeaturesV2
}

func (e *Engine) runtimeConfig() wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfig().
		WithCompilationCache(e.cache).
		WithCoreFeatures(e.Features()).
		WithCustomSections(true).
		WithCloseOnContextDone(true)
	if e.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	return rc
}

// NewRuntime returns a fresh runtime backed by the shared cache.
func (e *Engine) NewRuntime(ctx context.Context) (wazero.Runtime, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Closed(errors.PhaseRuntime, "engine")
	}
	return wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig()), nil
}

// Validate compiles bin in a scratch runtime and discards it. A successful
// call leaves the compiled code in the cache for later instantiation.
func (e *Engine) Validate(ctx context.Context, bin []byte) error {
	return e.Inspect(ctx, bin, nil)
}

// Inspect is Validate that also hands the compiled module to fn before it is
// discarded. fn must not retain the module.
func (e *Engine) Inspect(ctx context.Context, bin []byte, fn func(wazero.CompiledModule) error) (err error) {
	r, err := e.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, r.Close(ctx))
	}()

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return err
	}
	if fn != nil {
		err = fn(compiled)
	}
	return multierr.Append(err, compiled.Close(ctx))
}

// Close releases the compilation cache. Runtimes created earlier must be
// closed by their owners.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.cache.Close(ctx)
}
