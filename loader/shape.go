package loader

import (
	"strconv"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/table"
)

// Exports the bridge calls back into.
const (
	ExportMain     = "$invokeMain"
	ExportCallback = "$invokeCallback"
	ExportRelease  = "$releaseRef"
	ExportI16Get   = "$wasmI16ArrayGet"
	ExportI16Set   = "$wasmI16ArraySet"
	ExportMemory   = "memory"
)

var (
	i32 = api.ValueTypeI32

	mainShapes     = [][]api.ValueType{{}, {i32}}
	callbackShapes = [][]api.ValueType{{i32}, {i32, i32, i32}}
)

// TrampolineName is the export a wrapper of the given key calls through.
func TrampolineName(key uint32) string { return table.ImportName(key) }

// TrampolineSignature is the trampoline type for a wrapper of arity n:
// (ref, argc, arg0..argN-1) -> result.
func TrampolineSignature(n int) table.Signature {
	params := make([]api.ValueType, n+2)
	for i := range params {
		params[i] = i32
	}
	return table.Signature{Params: params, Results: []api.ValueType{i32}}
}

func shapeError(path []string, detail string, args ...any) *errors.Error {
	return errors.New(errors.PhaseCompile, errors.KindCompile).
		Path(path...).
		Detail(detail, args...).
		Build()
}

// checkShape checks bridge imports against the catalog and the exports those
// imports depend on. All problems are reported together.
func (a *Artifact) checkShape(cat *table.Catalog) error {
	var errs error
	arities := make(map[uint32]int)
	for _, imp := range a.imports {
		switch imp.Module {
		case WASIModule:
			a.features |= FeatureWASI
			continue
		case table.PolyfillNamespace:
			a.features |= FeatureStringBuiltins
		case table.Namespace:
		case table.ConstNamespace:
			if imp.Kind == api.ExternTypeFunc && (len(imp.Params) != 0 || len(imp.Results) != 1 || imp.Results[0] != i32) {
				errs = multierr.Append(errs, shapeError([]string{imp.Module, imp.Name},
					"string constant import must be ()->(i32), got %s", imp.Signature()))
			}
			continue
		default:
			continue
		}
		path := []string{imp.Module, imp.Name}
		if imp.Kind != api.ExternTypeFunc {
			errs = multierr.Append(errs, shapeError(path, "%s import in a bridge namespace", api.ExternTypeName(imp.Kind)))
			continue
		}
		b, ok := cat.Resolve(imp.Module, imp.Name)
		if !ok {
			errs = multierr.Append(errs, shapeError(path, "no catalog entry"))
			continue
		}
		want, _ := cat.Signature(b.Key)
		if !want.Equal(imp.Signature()) {
			errs = multierr.Append(errs, shapeError(path, "%s expects %s, module declares %s", b.Name, want, imp.Signature()))
			continue
		}
		a.keys = append(a.keys, b.Key)
		a.needs |= b.Needs
		if b.Needs&table.NeedTrampoline != 0 {
			arities[b.Key] = b.Arity
		}
	}
	if a.shared {
		a.features |= FeatureSharedMemory
	}

	if a.needs&table.NeedMemory != 0 && !a.memory {
		errs = multierr.Append(errs, shapeError([]string{ExportMemory}, "imported capabilities use linear memory but the module exports none"))
	}
	if a.needs&table.NeedCallback != 0 {
		errs = multierr.Append(errs, a.requireExport(ExportCallback, callbackShapes, nil))
	}
	if a.needs&table.NeedI16Get != 0 {
		errs = multierr.Append(errs, a.requireExport(ExportI16Get, [][]api.ValueType{{i32, i32}}, []api.ValueType{i32}))
	}
	if a.needs&table.NeedI16Set != 0 {
		errs = multierr.Append(errs, a.requireExport(ExportI16Set, [][]api.ValueType{{i32, i32, i32}}, nil))
	}
	for key, n := range arities {
		want := TrampolineSignature(n)
		errs = multierr.Append(errs, a.requireExport(TrampolineName(key), [][]api.ValueType{want.Params}, want.Results))
	}
	// optional exports still have to be callable the way the bridge calls them
	if _, ok := a.exports[ExportMain]; ok {
		errs = multierr.Append(errs, a.requireExport(ExportMain, mainShapes, nil))
	}
	if _, ok := a.exports[ExportRelease]; ok {
		errs = multierr.Append(errs, a.requireExport(ExportRelease, [][]api.ValueType{{i32}}, nil))
	}

	if errs != nil {
		return errors.Compile("module does not fit the bridge ("+strconv.Itoa(len(multierr.Errors(errs)))+" problems)", errs)
	}
	return nil
}

func (a *Artifact) requireExport(name string, params [][]api.ValueType, results []api.ValueType) error {
	e, ok := a.exports[name]
	if !ok {
		return shapeError([]string{name}, "required export is missing")
	}
	if e.Kind != api.ExternTypeFunc {
		return shapeError([]string{name}, "export must be a function, got %s", api.ExternTypeName(e.Kind))
	}
	for _, p := range params {
		want := table.Signature{Params: p, Results: results}
		if want.Equal(e.Signature()) {
			return nil
		}
	}
	return shapeError([]string{name}, "export has type %s", e.Signature())
}
