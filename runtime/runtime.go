package runtime

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/table"
)

// Config configures a Runtime.
type Config struct {
	Engine engine.Config
	// Catalog defaults to table.Default().
	Catalog *table.Catalog
	Logger  *zap.Logger
	// MaxModuleBytes caps compiled module size; 0 means no cap.
	MaxModuleBytes int64
}

// Runtime compiles guest modules. It is safe for concurrent use.
type Runtime struct {
	engine  *engine.Engine
	catalog *table.Catalog
	logger  *zap.Logger
	maxSize int64
}

// New creates a runtime with its own engine.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	eng, err := engine.New(&cfg.Engine)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "create engine")
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = table.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = engine.Logger()
	}
	return &Runtime{
		engine:  eng,
		catalog: catalog,
		logger:  logger,
		maxSize: cfg.MaxModuleBytes,
	}, nil
}

// Close releases all runtime resources.
// All instances must be closed before calling this.
func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// Engine returns the underlying engine.
func (r *Runtime) Engine() *engine.Engine { return r.engine }

func (r *Runtime) loaderOptions() loader.Options {
	return loader.Options{Catalog: r.catalog, MaxBytes: r.maxSize, Logger: r.logger}
}

// Compile validates a fully buffered module.
func (r *Runtime) Compile(ctx context.Context, bin []byte) (*Module, error) {
	art, err := loader.Compile(ctx, r.engine, bin, r.loaderOptions())
	if err != nil {
		return nil, err
	}
	return &Module{runtime: r, artifact: art}, nil
}

// CompileStreaming validates a module read from an *http.Response or an
// io.Reader. The result is the same as Compile on the complete bytes.
func (r *Runtime) CompileStreaming(ctx context.Context, src any) (*Module, error) {
	art, err := loader.CompileStreaming(ctx, r.engine, src, r.loaderOptions())
	if err != nil {
		return nil, err
	}
	return &Module{runtime: r, artifact: art}, nil
}

// Module is a compiled guest. It can be instantiated any number of times.
type Module struct {
	runtime  *Runtime
	artifact *loader.Artifact
}

// NewModule wraps an artifact compiled elsewhere with the same engine.
func (r *Runtime) NewModule(art *loader.Artifact) *Module {
	return &Module{runtime: r, artifact: art}
}

// Artifact returns the compiled artifact.
func (m *Module) Artifact() *loader.Artifact { return m.artifact }

// closeAll closes every closer in reverse order and combines the errors.
func closeAll(ctx context.Context, closers ...func(context.Context) error) error {
	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] != nil {
			err = multierr.Append(err, closers[i](ctx))
		}
	}
	return err
}
