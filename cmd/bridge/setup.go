package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/runtime"
	"github.com/wippyai/wasm-bridge/table"
)

// newLogger builds the process logger. Console output is used when w is a
// terminal, JSON otherwise, unless the config names a format.
func newLogger(cfg LogConfig, verbose bool, w *os.File) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if cfg.Level != "" {
		l, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	format := cfg.Format
	if format == "" {
		format = "json"
		if term.IsTerminal(int(w.Fd())) {
			format = "console"
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch format {
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.Lock(w), level)), nil
}

// openStore opens the module store and loads every *.wasm file from the
// configured directory into it, keyed by file name without extension.
func openStore(cfg *Config, logger *zap.Logger) (*loader.Store, error) {
	var store *loader.Store
	if cfg.Modules.Store != "" {
		s, err := loader.OpenStore("modules", cfg.path(cfg.Modules.Store))
		if err != nil {
			return nil, err
		}
		store = s
	} else {
		store = loader.NewMemStore()
	}
	store.WithLogger(logger)

	if cfg.Modules.Dir == "" {
		return store, nil
	}
	files, err := filepath.Glob(filepath.Join(cfg.path(cfg.Modules.Dir), "*.wasm"))
	if err != nil {
		store.Close()
		return nil, err
	}
	for _, f := range files {
		bin, err := os.ReadFile(f)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("read module: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(f), ".wasm")
		if err := store.Put(name, bin); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

// instanceOptions serves deferred and dynamic modules from store. The
// companion handle of a dynamic module is its script name.
func instanceOptions(cfg *Config, store *loader.Store) (runtime.Options, error) {
	features, err := cfg.FeatureSet()
	if err != nil {
		return runtime.Options{}, err
	}
	return runtime.Options{
		Features:         features,
		LoadDeferredWasm: store.Loader(),
		LoadDynamicModule: func(ctx context.Context, wasm, js string) ([]byte, any, error) {
			bin, err := store.Loader()(ctx, wasm)
			if err != nil {
				return nil, nil, err
			}
			return bin, hoststring.FromGo(js), nil
		},
	}, nil
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))

// importRow describes one declared import against the catalog.
type importRow struct {
	Module, Name string
	Sig          string
	Key          string
	Capability   string
	Partition    string
}

func importRows(art *loader.Artifact, cat *table.Catalog) []importRow {
	var rows []importRow
	for _, imp := range art.Imports() {
		r := importRow{
			Module:     imp.Module,
			Name:       imp.Name,
			Sig:        imp.Signature().String(),
			Key:        "-",
			Capability: "-",
			Partition:  "-",
		}
		if imp.Kind != api.ExternTypeFunc {
			r.Sig = api.ExternTypeName(imp.Kind)
		}
		switch {
		case imp.Module == table.ConstNamespace:
			r.Capability = "constant"
		case imp.Module == loader.WASIModule:
			r.Capability = "wasi"
		default:
			if b, ok := cat.Resolve(imp.Module, imp.Name); ok {
				r.Key = strconv.FormatUint(uint64(b.Key), 10)
				r.Capability = b.Name
				if p, ok := table.PartitionOf(b.Key); ok {
					r.Partition = p.Name
				}
			}
		}
		rows = append(rows, r)
	}
	return rows
}

func sortedExports(art *loader.Artifact) []loader.Export {
	exports := art.Exports()
	sort.Slice(exports, func(i, j int) bool { return exports[i].Name < exports[j].Name })
	return exports
}

// describe prints the module's imports and exports.
func describe(w io.Writer, name string, art *loader.Artifact) error {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Module:"), name)
	fmt.Fprintf(w, "Size: %d bytes  ID: %s\n", art.Len(), art.ID()[:16])
	fmt.Fprintf(w, "Features: %s\n", art.Features())
	fmt.Fprintf(w, "Needs: %s\n\n", art.Needs())

	imports := ltable.New().
		Border(lipgloss.NormalBorder()).
		Headers("MODULE", "NAME", "KEY", "CAPABILITY", "PARTITION", "TYPE")
	for _, r := range importRows(art, table.Default()) {
		imports.Row(r.Module, r.Name, r.Key, r.Capability, r.Partition, r.Sig)
	}
	fmt.Fprintln(w, headerStyle.Render("Imports"))
	fmt.Fprintln(w, imports.String())

	exports := ltable.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "KIND", "TYPE")
	for _, e := range sortedExports(art) {
		sig := "-"
		if e.Kind == api.ExternTypeFunc {
			sig = e.Signature().String()
		}
		exports.Row(e.Name, api.ExternTypeName(e.Kind), sig)
	}
	fmt.Fprintln(w, headerStyle.Render("Exports"))
	_, err := fmt.Fprintln(w, exports.String())
	return err
}
