package table

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/internal/wasmtest"
)

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

func noop(context.Context, api.Module, []uint64) {}

func TestDefaultCatalog_KeysPartitioned(t *testing.T) {
	cat := Default()
	seen := make(map[string]bool)
	for _, b := range cat.Bindings() {
		p, ok := PartitionOf(b.Key)
		if !ok {
			t.Fatalf("key %d outside every partition", b.Key)
		}
		if b.Reserved() != (p.Name == "polyfill") {
			t.Errorf("key %d: reserved=%v but partition %s", b.Key, b.Reserved(), p.Name)
		}
		id := b.Namespace() + "." + b.ImportName()
		if seen[id] {
			t.Errorf("import %s bound twice", id)
		}
		seen[id] = true
		if _, ok := cat.Signature(b.Key); !ok {
			t.Errorf("key %d has no parsed signature", b.Key)
		}
	}
	for _, name := range []string{"cast", "test", "fromCharCodeArray", "intoCharCodeArray", "fromCharCode",
		"charCodeAt", "length", "concat", "substring", "equals", "compare"} {
		if !seen[PolyfillNamespace+"."+name] {
			t.Errorf("polyfill %s missing", name)
		}
	}
}

func TestNewCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		bindings []Binding
		want     string
	}{
		{"duplicate key", []Binding{{Key: 1, Name: "a", Sig: "func()"}, {Key: 1, Name: "b", Sig: "func()"}}, "twice"},
		{"duplicate name", []Binding{{Key: 1, Name: "a", Sig: "func()"}, {Key: 2, Name: "a", Sig: "func()"}}, "twice"},
		{"outside partition", []Binding{{Key: 800, Name: "a", Sig: "func()"}}, "outside"},
		{"bad signature", []Binding{{Key: 1, Name: "a", Sig: "func(x: string)"}}, "key 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.bindings)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	cat := Default()
	if b, ok := cat.Resolve(Namespace, "_400"); !ok || b.Name != "set-timeout" {
		t.Fatalf("_400 = %+v %v", b, ok)
	}
	if b, ok := cat.Resolve(PolyfillNamespace, "length"); !ok || b.Key != 9006 {
		t.Fatalf("length = %+v %v", b, ok)
	}
	for _, name := range []string{"_9006", "_0400", "_", "400", "_99999"} {
		if _, ok := cat.Resolve(Namespace, name); ok {
			t.Errorf("%q should not resolve", name)
		}
	}
	if b, ok := cat.ByName("wrap-3"); !ok || b.Arity != 3 || b.Needs&NeedTrampoline == 0 {
		t.Fatalf("wrap-3 = %+v", b)
	}
}

func TestNeedString(t *testing.T) {
	if got := (NeedMemory | NeedTrampoline).String(); got != "memory|trampoline" {
		t.Errorf("String = %q", got)
	}
	if got := Need(0).String(); got != "none" {
		t.Errorf("String = %q", got)
	}
}

func TestParseSignature(t *testing.T) {
	tests := []struct {
		text    string
		params  []api.ValueType
		results []api.ValueType
	}{
		{"func()", nil, nil},
		{"func(o: u32, key: u32) -> u32", []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"func(ms: f64, token: u32) -> u32", []api.ValueType{f64, i32}, []api.ValueType{i32}},
		{"func(b: bool) -> s64", []api.ValueType{i32}, []api.ValueType{api.ValueTypeI64}},
		{"func(x: f32) -> char", []api.ValueType{api.ValueTypeF32}, []api.ValueType{i32}},
		{"func(dst-index: u8)", []api.ValueType{i32}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			sig, err := ParseSignature(tt.text)
			if err != nil {
				t.Fatal(err)
			}
			want := Signature{Params: tt.params, Results: tt.results}
			if !sig.Equal(want) {
				t.Fatalf("got %s, want %s", sig, want)
			}
		})
	}

	for _, bad := range []string{"u32", "func(x: string)", "func(x: list<u8>)", "func() -> tuple<u32, u32>"} {
		if _, err := ParseSignature(bad); err == nil {
			t.Errorf("%q should not parse", bad)
		}
	}
}

func TestCoreType(t *testing.T) {
	if vt, err := CoreType(wit.U64{}); err != nil || vt != api.ValueTypeI64 {
		t.Errorf("u64 = %v, %v", vt, err)
	}
	if _, err := CoreType(wit.String{}); !stderrors.Is(err, errors.ErrUnsupported) {
		t.Errorf("string err = %v", err)
	}
}

func TestSignatureOf(t *testing.T) {
	sig, err := SignatureOf(func(ctx context.Context, m api.Module, a uint32, b float64) int32 { return 0 })
	if err != nil {
		t.Fatal(err)
	}
	if !sig.Equal(Signature{Params: []api.ValueType{i32, f64}, Results: []api.ValueType{i32}}) {
		t.Fatalf("got %s", sig)
	}
	if _, err := SignatureOf(func(s string) {}); err == nil {
		t.Error("string parameter should be rejected")
	}
	if _, err := SignatureOf(42); err == nil {
		t.Error("non-function should be rejected")
	}
}

func baseImpls() map[string]api.GoModuleFunc {
	return map[string]api.GoModuleFunc{
		"type-tag":         noop,
		"set-timeout":      noop,
		"js-string-length": noop,
	}
}

func TestAssemble_Polyfill(t *testing.T) {
	tbl, err := Assemble(Default(), baseImpls(), nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup(PolyfillNamespace, "length"); ok {
		t.Fatal("polyfill bound without the feature")
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d", tbl.Len())
	}

	tbl, err = Assemble(Default(), baseImpls(), nil, Options{Polyfill: true})
	if err != nil {
		t.Fatal(err)
	}
	e, ok := tbl.Lookup(PolyfillNamespace, "length")
	if !ok || e.Source != SourcePolyfill || e.Key != 9006 {
		t.Fatalf("polyfill entry = %+v %v", e, ok)
	}
}

func TestAssemble_MergePolicy(t *testing.T) {
	override := Entry{Namespace: Namespace, Name: "_1", Go: func(uint32) uint32 { return 7 }}

	_, err := Assemble(Default(), baseImpls(), []Entry{override}, Options{})
	if !errors.IsLinkError(err) || !stderrors.Is(err, &errors.Error{Kind: errors.KindCollision}) {
		t.Fatalf("reject policy: %v", err)
	}

	tbl, err := Assemble(Default(), baseImpls(), []Entry{override}, Options{Policy: MergeOverride})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := tbl.Lookup(Namespace, "_1")
	if e.Source != SourceCaller || e.Key != 1 || e.Sig.String() != "(i32)->(i32)" {
		t.Fatalf("override entry = %+v", e)
	}

	fresh := Entry{Namespace: "env", Name: "abort", Fn: noop}
	if _, err := Assemble(Default(), baseImpls(), []Entry{fresh}, Options{}); err != nil {
		t.Fatalf("non-colliding caller entry: %v", err)
	}
	if _, err := Assemble(Default(), baseImpls(), []Entry{fresh, fresh}, Options{Policy: MergeOverride}); err == nil {
		t.Fatal("duplicate caller entries should collide under every policy")
	}
}

func TestAssemble_ReservedNeedsBothFlags(t *testing.T) {
	poly := Entry{Namespace: PolyfillNamespace, Name: "length", Fn: noop,
		Sig: Signature{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}}}

	tests := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"reject", Options{Polyfill: true}, false},
		{"override only", Options{Polyfill: true, Policy: MergeOverride}, false},
		{"allow only", Options{Polyfill: true, AllowReserved: true}, false},
		{"override and allow", Options{Polyfill: true, Policy: MergeOverride, AllowReserved: true}, true},
		{"reserved namespace without polyfill", Options{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(Default(), baseImpls(), []Entry{poly}, tt.opts)
			if (err == nil) != tt.ok {
				t.Fatalf("err = %v, want ok=%v", err, tt.ok)
			}
		})
	}

	reservedKey := Entry{Namespace: Namespace, Name: "_9006", Fn: noop}
	if _, err := Assemble(Default(), nil, []Entry{reservedKey}, Options{Policy: MergeOverride}); err == nil {
		t.Fatal("reserved key in base namespace should need AllowReserved")
	}
}

func TestAssemble_InvalidEntries(t *testing.T) {
	for _, e := range []Entry{
		{Name: "x", Fn: noop},
		{Namespace: "env", Fn: noop},
		{Namespace: "env", Name: "x"},
		{Namespace: "env", Name: "x", Go: func(s string) {}},
	} {
		if _, err := Assemble(Default(), nil, []Entry{e}, Options{}); err == nil {
			t.Errorf("entry %+v should be rejected", e)
		}
	}
}

func TestLink(t *testing.T) {
	tbl, err := Assemble(Default(), baseImpls(), nil, Options{})
	if err != nil {
		t.Fatal(err)
	}

	ok := []Import{
		{Module: Namespace, Name: "_1", Kind: api.ExternTypeFunc, Params: []api.ValueType{i32}, Results: []api.ValueType{i32}},
		{Module: "wasi_snapshot_preview1", Name: "fd_write", Kind: api.ExternTypeFunc},
	}
	if err := tbl.Link(ok, "wasi_snapshot_preview1"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	bad := []Import{
		{Module: Namespace, Name: "_1", Kind: api.ExternTypeFunc, Params: []api.ValueType{f64}, Results: []api.ValueType{i32}},
		{Module: Namespace, Name: "_2", Kind: api.ExternTypeFunc, Params: []api.ValueType{i32}, Results: []api.ValueType{i32}},
		{Module: "env", Name: "memory", Kind: api.ExternTypeMemory},
	}
	err = tbl.Link(bad)
	if !errors.IsLinkError(err) {
		t.Fatalf("want LinkError, got %v", err)
	}
	var missing *errors.MissingImportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("want MissingImportsError cause, got %v", err)
	}
	if len(missing.Imports) != 3 {
		t.Fatalf("missing = %+v", missing.Imports)
	}
	if !strings.Contains(missing.Imports[0].Reason, "signature mismatch") {
		t.Errorf("reason = %q", missing.Imports[0].Reason)
	}
	if missing.Imports[1].Function != "_2" || missing.Imports[1].Reason != "" {
		t.Errorf("missing[1] = %+v", missing.Imports[1])
	}
	if !strings.Contains(missing.Imports[2].Reason, "memory") {
		t.Errorf("reason = %q", missing.Imports[2].Reason)
	}
}

func TestAddConstants(t *testing.T) {
	tbl, _ := Assemble(Default(), nil, nil, Options{})
	var got []string
	tbl.AddConstants([]Import{
		{Module: ConstNamespace, Name: "hello world", Kind: api.ExternTypeFunc, Results: []api.ValueType{i32}},
		{Module: Namespace, Name: "_1", Kind: api.ExternTypeFunc},
	}, func(_ context.Context, s string) uint32 {
		got = append(got, s)
		return 42
	})
	e, ok := tbl.Lookup(ConstNamespace, "hello world")
	if !ok || e.Source != SourceConst {
		t.Fatalf("constant entry = %+v %v", e, ok)
	}
	stack := []uint64{0}
	e.Fn(context.Background(), nil, stack)
	if stack[0] != 42 || len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("stack=%v got=%v", stack, got)
	}
	if _, ok := tbl.Lookup(ConstNamespace, "_1"); ok {
		t.Fatal("non-constant import bound")
	}
}

func TestInstantiate(t *testing.T) {
	ctx := context.Background()
	impls := map[string]api.GoModuleFunc{
		"from-number": func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = api.EncodeU32(uint32(api.DecodeF64(stack[0]) * 2))
		},
	}
	tbl, err := Assemble(Default(), impls, []Entry{
		{Namespace: "env", Name: "inc", Go: func(x uint32) uint32 { return x + 1 }},
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	m := wasmtest.New()
	fromNumber := m.ImportFunc(Namespace, "_31", wasmtest.Types(wasmtest.F64), wasmtest.Types(wasmtest.I32))
	inc := m.ImportFunc("env", "inc", wasmtest.Types(wasmtest.I32), wasmtest.Types(wasmtest.I32))
	run := m.Func(nil, wasmtest.Types(wasmtest.I32), wasmtest.NewCode().F64Const(20).Call(fromNumber).Call(inc))
	m.ExportFunc("run", run)

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, m.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	var imports []Import
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		imports = append(imports, Import{Module: mod, Name: name, Kind: api.ExternTypeFunc,
			Params: def.ParamTypes(), Results: def.ResultTypes()})
	}
	if err := tbl.Link(imports); err != nil {
		t.Fatal(err)
	}
	hosts, err := tbl.Instantiate(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 2 {
		t.Fatalf("host modules = %d", len(hosts))
	}
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		t.Fatal(err)
	}
	out, err := mod.ExportedFunction("run").Call(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if api.DecodeU32(out[0]) != 41 {
		t.Fatalf("run = %d", api.DecodeU32(out[0]))
	}
}
