package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/internal/wasmtest"
	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/runtime"
	"github.com/wippyai/wasm-bridge/table"
)

func testArtifact(t *testing.T) *loader.Artifact {
	t.Helper()
	ctx := context.Background()
	m := wasmtest.New()
	drop := m.ImportFunc(table.Namespace, "_28", wasmtest.Types(wasmtest.I32), nil)
	hello := m.ImportFunc(table.ConstNamespace, "hello", nil, wasmtest.Types(wasmtest.I32))
	main := m.Func(nil, nil, wasmtest.NewCode().Call(hello).Call(drop))
	m.ExportFunc(loader.ExportMain, main)

	rt, err := runtime.New(ctx, runtime.Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	mod, err := rt.Compile(ctx, m.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return mod.Artifact()
}

func TestImportRows(t *testing.T) {
	rows := importRows(testArtifact(t), table.Default())
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	drop := rows[0]
	if drop.Key != "28" || drop.Capability != "drop-ref" || drop.Partition != "value" || drop.Sig != "(i32)->()" {
		t.Errorf("drop row = %+v", drop)
	}
	if rows[1].Capability != "constant" || rows[1].Key != "-" {
		t.Errorf("constant row = %+v", rows[1])
	}
}

func TestDescribe(t *testing.T) {
	var buf bytes.Buffer
	if err := describe(&buf, "guest.wasm", testArtifact(t)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"guest.wasm", "drop-ref", "hello", loader.ExportMain, "Needs:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestOpenStore_LoadsDirectory(t *testing.T) {
	dir := t.TempDir()
	modDir := filepath.Join(dir, "modules")
	if err := os.Mkdir(modDir, 0o755); err != nil {
		t.Fatal(err)
	}
	bin := wasmtest.New().Bytes()
	if err := os.WriteFile(filepath.Join(modDir, "side.wasm"), bin, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(modDir, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{Dir: dir, Modules: ModulesConfig{Dir: "modules"}}
	store, err := openStore(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	names, err := store.Names()
	if err != nil || len(names) != 1 || names[0] != "side" {
		t.Fatalf("names = %v, %v", names, err)
	}

	opts, err := instanceOptions(cfg, store)
	if err != nil {
		t.Fatal(err)
	}
	got, err := opts.LoadDeferredWasm(context.Background(), "side")
	if err != nil || !bytes.Equal(got, bin) {
		t.Errorf("deferred = %x, %v", got, err)
	}
	got, companion, err := opts.LoadDynamicModule(context.Background(), "side", "side.js")
	if err != nil || !bytes.Equal(got, bin) {
		t.Errorf("dynamic = %x, %v", got, err)
	}
	if s, ok := companion.(hoststring.String); !ok || s.String() != "side.js" {
		t.Errorf("companion = %#v", companion)
	}
	if _, _, err := opts.LoadDynamicModule(context.Background(), "absent", "x.js"); err == nil {
		t.Error("missing module: expected error")
	}
}

func TestNewLogger(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	l, err := newLogger(LogConfig{}, true, f)
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("probe")
	_ = l.Sync()
	data, _ := os.ReadFile(f.Name())
	if !strings.Contains(string(data), `"msg":"probe"`) {
		t.Errorf("a non-terminal writer should get JSON: %q", data)
	}

	if _, err := newLogger(LogConfig{Format: "xml"}, false, f); err == nil {
		t.Error("unknown format: expected error")
	}
	if _, err := newLogger(LogConfig{Level: "loud"}, false, f); err == nil {
		t.Error("unknown level: expected error")
	}
}
