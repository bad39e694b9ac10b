package loader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"mime"
	"net/http"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/table"
	"github.com/wippyai/wasm-bridge/wasm"
)

// ContentType is the media type a streamed response must carry.
const ContentType = "application/wasm"

// WASIModule is the import namespace of WASI preview1.
const WASIModule = "wasi_snapshot_preview1"

// Options configure compilation.
type Options struct {
	// Catalog checks bridge imports. Nil uses table.Default().
	Catalog *table.Catalog
	// MaxBytes bounds the module size. Zero means unbounded.
	MaxBytes int64
	Logger   *zap.Logger
}

func (o Options) catalog() *table.Catalog {
	if o.Catalog != nil {
		return o.Catalog
	}
	return table.Default()
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return engine.Logger()
}

// Compile validates bin and returns its artifact. bin is copied.
func Compile(ctx context.Context, eng *engine.Engine, bin []byte, opts Options) (*Artifact, error) {
	sum, err := wasm.ScanLimit(bytes.NewReader(bin), opts.MaxBytes)
	if err != nil {
		return nil, errors.Compile("scan module", err)
	}
	return build(ctx, eng, sum, opts)
}

// CompileStreaming reads a module from src, an io.Reader or an
// *http.Response. A response must have a 2xx status and the application/wasm
// content type; its body is closed.
func CompileStreaming(ctx context.Context, eng *engine.Engine, src any, opts Options) (*Artifact, error) {
	var r io.Reader
	switch s := src.(type) {
	case *http.Response:
		defer s.Body.Close()
		if err := checkResponse(s); err != nil {
			return nil, err
		}
		r = s.Body
	case io.Reader:
		r = s
	case nil:
		return nil, errors.Compile("no module source", nil)
	default:
		return nil, errors.New(errors.PhaseCompile, errors.KindCompile).
			Value(src).
			Detail("module source must be an io.Reader or *http.Response, got %T", src).
			Build()
	}
	sum, err := wasm.ScanLimit(&ctxReader{ctx: ctx, r: r}, opts.MaxBytes)
	if err != nil {
		return nil, errors.Compile("scan module stream", err)
	}
	return build(ctx, eng, sum, opts)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New(errors.PhaseCompile, errors.KindCompile).
			Value(resp.StatusCode).
			Detail("module response status %s", resp.Status).
			Build()
	}
	ct := resp.Header.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil || mt != ContentType {
		return errors.New(errors.PhaseCompile, errors.KindCompile).
			Value(ct).
			Detail("module response content type %q, want %s", ct, ContentType).
			Build()
	}
	return nil
}

// ctxReader stops a stream read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func build(ctx context.Context, eng *engine.Engine, sum *wasm.Summary, opts Options) (*Artifact, error) {
	a := &Artifact{
		bin:     append([]byte(nil), sum.Bytes...),
		exports: make(map[string]Export),
		custom:  append([]string(nil), sum.Custom...),
		shared:  sum.SharedMemory(),
	}
	a.sum = sha256.Sum256(a.bin)

	err := eng.Inspect(ctx, a.bin, func(cm wazero.CompiledModule) error {
		funcs := cm.ImportedFunctions()
		fi := 0
		for _, imp := range sum.Imports {
			ti := table.Import{Module: imp.Module, Name: imp.Name, Kind: api.ExternType(imp.Kind)}
			if imp.Kind == wasm.KindFunc && fi < len(funcs) {
				ti.Params = funcs[fi].ParamTypes()
				ti.Results = funcs[fi].ResultTypes()
				fi++
			}
			a.imports = append(a.imports, ti)
		}
		for name, def := range cm.ExportedFunctions() {
			a.exports[name] = Export{
				Name:    name,
				Kind:    api.ExternTypeFunc,
				Params:  def.ParamTypes(),
				Results: def.ResultTypes(),
			}
		}
		for name := range cm.ExportedMemories() {
			a.exports[name] = Export{Name: name, Kind: api.ExternTypeMemory}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Compile("validate module", err)
	}
	for _, e := range sum.Exports {
		if _, ok := a.exports[e.Name]; !ok {
			a.exports[e.Name] = Export{Name: e.Name, Kind: api.ExternType(e.Kind)}
		}
	}
	if e, ok := a.exports["memory"]; ok && e.Kind == api.ExternTypeMemory {
		a.memory = true
	}

	if err := a.checkShape(opts.catalog()); err != nil {
		return nil, err
	}
	sort.Slice(a.keys, func(i, j int) bool { return a.keys[i] < a.keys[j] })

	opts.logger().Debug("module compiled",
		zap.String("id", a.ID()[:12]),
		zap.Int("bytes", len(a.bin)),
		zap.Int("imports", len(a.imports)),
		zap.Int("bridge_keys", len(a.keys)),
		zap.Stringer("features", a.features))
	return a, nil
}
