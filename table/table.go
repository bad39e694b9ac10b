package table

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
)

// MergePolicy decides what happens when caller imports collide with built-ins.
type MergePolicy int

const (
	// MergeReject fails assembly on any collision.
	MergeReject MergePolicy = iota
	// MergeOverride lets caller imports replace base entries.
	MergeOverride
)

func (p MergePolicy) String() string {
	if p == MergeOverride {
		return "override"
	}
	return "reject"
}

// Source records where an entry came from.
type Source int

const (
	SourceBase Source = iota
	SourcePolyfill
	SourceCaller
	SourceConst
)

// Entry is one resolved host import.
type Entry struct {
	// Fn is the stack-based implementation. Go is used instead when set.
	Fn api.GoModuleFunc
	// Go is a plain Go function registered through wazero's reflection path.
	Go         any
	Namespace  string
	Name       string
	Capability string
	Sig        Signature
	Key        uint32
	Source     Source
}

// Import is a function (or other) import declared by a guest module.
type Import struct {
	Module  string
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Kind    api.ExternType
}

// Signature returns the import's core function type.
func (i Import) Signature() Signature {
	return Signature{Params: i.Params, Results: i.Results}
}

// Options configure Assemble.
type Options struct {
	Logger        *zap.Logger
	Policy        MergePolicy
	AllowReserved bool
	// Polyfill binds PolyfillNamespace to the native string operations.
	Polyfill bool
}

// Table is the assembled import table, immutable once Link succeeds.
type Table struct {
	entries map[string]map[string]*Entry
	logger  *zap.Logger
}

// Assemble merges catalog bindings implemented in impls with the caller's
// entries. Bindings without an implementation are left out and surface as
// missing imports at link time.
func Assemble(cat *Catalog, impls map[string]api.GoModuleFunc, extra []Entry, opts Options) (*Table, error) {
	logger := opts.Logger
	if logger == nil {
		logger = engine.Logger()
	}
	t := &Table{entries: make(map[string]map[string]*Entry), logger: logger}

	for _, b := range cat.Bindings() {
		if b.Reserved() && !opts.Polyfill {
			continue
		}
		fn, ok := impls[b.Name]
		if !ok {
			continue
		}
		sig, _ := cat.Signature(b.Key)
		src := SourceBase
		if b.Reserved() {
			src = SourcePolyfill
		}
		t.put(&Entry{
			Fn:         fn,
			Namespace:  b.Namespace(),
			Name:       b.ImportName(),
			Capability: b.Name,
			Sig:        sig,
			Key:        b.Key,
			Source:     src,
		})
	}

	var errs []error
	for i := range extra {
		e := extra[i]
		if err := normalize(&e); err != nil {
			errs = append(errs, err)
			continue
		}
		e.Source = SourceCaller
		if err := t.merge(&e, opts); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Link("import table collision", multierr.Combine(errs...))
	}
	return t, nil
}

func normalize(e *Entry) error {
	if e.Namespace == "" || e.Name == "" {
		return errors.InvalidInput(errors.PhaseLink, "import entry needs a namespace and a name")
	}
	if e.Fn == nil && e.Go == nil {
		return errors.InvalidInput(errors.PhaseLink, e.Namespace+"."+e.Name+" has no implementation")
	}
	if e.Go != nil && len(e.Sig.Params) == 0 && len(e.Sig.Results) == 0 {
		sig, err := SignatureOf(e.Go)
		if err != nil {
			return err
		}
		e.Sig = sig
	}
	if e.Capability == "" {
		e.Capability = e.Name
	}
	return nil
}

func reservedName(namespace, name string) bool {
	if namespace == PolyfillNamespace {
		return true
	}
	if namespace != Namespace {
		return false
	}
	key, ok := ParseImportName(name)
	return ok && key >= ReservedMin && key <= ReservedMax
}

func (t *Table) merge(e *Entry, opts Options) error {
	prev, exists := t.lookup(e.Namespace, e.Name)
	if reservedName(e.Namespace, e.Name) || (exists && prev.Source == SourcePolyfill) {
		if opts.Policy != MergeOverride || !opts.AllowReserved {
			return errors.Collision(e.Namespace, e.Name, "reserved polyfill entry")
		}
	}
	if exists {
		switch {
		case prev.Source == SourceCaller:
			return errors.Collision(e.Namespace, e.Name, "declared twice by caller")
		case opts.Policy == MergeReject:
			return errors.Collision(e.Namespace, e.Name, "collides with "+prev.Capability)
		}
		e.Key = prev.Key
		t.logger.Info("caller import overrides built-in",
			zap.String("namespace", e.Namespace),
			zap.String("name", e.Name),
			zap.String("capability", prev.Capability))
	}
	t.put(e)
	return nil
}

func (t *Table) put(e *Entry) {
	ns := t.entries[e.Namespace]
	if ns == nil {
		ns = make(map[string]*Entry)
		t.entries[e.Namespace] = ns
	}
	ns[e.Name] = e
}

func (t *Table) lookup(namespace, name string) (*Entry, bool) {
	e, ok := t.entries[namespace][name]
	return e, ok
}

// Lookup returns a copy of the entry bound to namespace.name.
func (t *Table) Lookup(namespace, name string) (Entry, bool) {
	e, ok := t.lookup(namespace, name)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of entries.
func (t *Table) Len() int {
	n := 0
	for _, ns := range t.entries {
		n += len(ns)
	}
	return n
}

// Namespaces returns every namespace in sorted order.
func (t *Table) Namespaces() []string {
	out := make([]string, 0, len(t.entries))
	for ns := range t.entries {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Entries returns every entry sorted by namespace then name.
func (t *Table) Entries() []Entry {
	var out []Entry
	for _, ns := range t.Namespaces() {
		names := make([]string, 0, len(t.entries[ns]))
		for name := range t.entries[ns] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, *t.entries[ns][name])
		}
	}
	return out
}

// AddConstants binds every function import from ConstNamespace to a
// nullary function returning the handle of the import name as a string.
func (t *Table) AddConstants(imports []Import, handleOf func(ctx context.Context, s string) uint32) {
	for _, imp := range imports {
		if imp.Module != ConstNamespace || imp.Kind != api.ExternTypeFunc {
			continue
		}
		if _, ok := t.lookup(ConstNamespace, imp.Name); ok {
			continue
		}
		s := imp.Name
		t.put(&Entry{
			Fn: func(ctx context.Context, _ api.Module, stack []uint64) {
				stack[0] = api.EncodeU32(handleOf(ctx, s))
			},
			Namespace:  ConstNamespace,
			Name:       s,
			Capability: "string-constant",
			Sig:        Signature{Results: []api.ValueType{api.ValueTypeI32}},
			Source:     SourceConst,
		})
	}
}

// Link resolves every import against the table. Imports from a provided
// namespace are satisfied elsewhere. It never links partially: any missing or
// mismatched import fails the whole call with a LinkError.
func (t *Table) Link(imports []Import, provided ...string) error {
	skip := make(map[string]bool, len(provided))
	for _, p := range provided {
		skip[p] = true
	}

	missing := &errors.MissingImportsError{}
	for _, imp := range imports {
		if skip[imp.Module] {
			continue
		}
		if imp.Kind != api.ExternTypeFunc {
			missing.Imports = append(missing.Imports, errors.MissingImport{
				Namespace: imp.Module,
				Function:  imp.Name,
				Reason:    "unsupported " + api.ExternTypeName(imp.Kind) + " import",
			})
			continue
		}
		e, ok := t.lookup(imp.Module, imp.Name)
		if !ok {
			missing.Imports = append(missing.Imports, errors.MissingImport{Namespace: imp.Module, Function: imp.Name})
			continue
		}
		if want := imp.Signature(); !e.Sig.Equal(want) {
			missing.Imports = append(missing.Imports, errors.MissingImport{
				Namespace: imp.Module,
				Function:  imp.Name,
				Reason:    "signature mismatch: host " + e.Sig.String() + ", guest " + want.String(),
			})
		}
	}
	if len(missing.Imports) > 0 {
		return errors.Link("unresolved imports", missing)
	}
	return nil
}

// Instantiate builds one host module per namespace in r. On failure the host
// modules built so far are closed.
func (t *Table) Instantiate(ctx context.Context, r wazero.Runtime) ([]api.Module, error) {
	var mods []api.Module
	for _, ns := range t.Namespaces() {
		builder := r.NewHostModuleBuilder(ns)
		for name, e := range t.entries[ns] {
			fb := builder.NewFunctionBuilder().WithName(e.Capability)
			if e.Go != nil {
				fb = fb.WithFunc(e.Go)
			} else {
				fb = fb.WithGoModuleFunction(e.Fn, e.Sig.Params, e.Sig.Results)
			}
			fb.Export(name)
		}
		mod, err := builder.Instantiate(ctx)
		if err != nil {
			for _, m := range mods {
				err = multierr.Append(err, m.Close(ctx))
			}
			return nil, errors.Wrap(errors.PhaseLink, errors.KindLink, err, "instantiate host module "+ns)
		}
		t.logger.Debug("host module instantiated",
			zap.String("namespace", ns),
			zap.Int("functions", len(t.entries[ns])))
		mods = append(mods, mod)
	}
	return mods, nil
}
