package runtime

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/table"
)

// Host is the interface for struct-based host modules.
// All exported methods (except Namespace) are registered as host functions.
type Host interface {
	// Namespace returns the import module name (e.g., "env").
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact import names when the
// automatic PascalCase-to-kebab-case conversion doesn't apply.
type ExplicitRegistrar interface {
	Register() map[string]any
}

// Imports collects the additional imports merged into an instance's table.
// One Imports may be shared by several instantiations.
type Imports struct {
	funcs map[string]map[string]table.Entry
	mu    sync.RWMutex
}

// NewImports returns an empty import set.
func NewImports() *Imports {
	return &Imports{funcs: make(map[string]map[string]table.Entry)}
}

// RegisterHost registers all exported methods of h as host functions.
// Method names are converted from PascalCase to kebab-case (GetValue -> get-value).
func (im *Imports) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		for name, handler := range er.Register() {
			if err := im.RegisterFunc(ns, name, handler); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		if err := im.RegisterFunc(ns, toKebabCase(method.Name), rv.Method(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFunc registers a Go function. Parameters and the optional result
// must be core number types; a leading context.Context and api.Module are
// passed through.
func (im *Imports) RegisterFunc(namespace, name string, fn any) error {
	if err := checkName(namespace, name); err != nil {
		return err
	}
	sig, err := table.SignatureOf(fn)
	if err != nil {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Path(namespace, name).
			Cause(err).
			Detail("cannot register handler").
			Build()
	}
	im.put(table.Entry{Go: fn, Namespace: namespace, Name: name, Sig: sig})
	return nil
}

// RegisterStack registers a stack-based function with an explicit signature.
func (im *Imports) RegisterStack(namespace, name string, fn api.GoModuleFunc, params, results []api.ValueType) error {
	if err := checkName(namespace, name); err != nil {
		return err
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseHost, namespace+"."+name+" has no implementation")
	}
	im.put(table.Entry{
		Fn:        fn,
		Namespace: namespace,
		Name:      name,
		Sig:       table.Signature{Params: params, Results: results},
	})
	return nil
}

// Override replaces the built-in bound to key. It only takes effect when the
// instance merges with table.MergeOverride.
func (im *Imports) Override(key uint32, fn api.GoModuleFunc) error {
	b, ok := table.Default().Lookup(key)
	if !ok {
		return errors.NotFound(errors.PhaseHost, "import key", table.ImportName(key))
	}
	sig, _ := table.Default().Signature(key)
	if fn == nil {
		return errors.InvalidInput(errors.PhaseHost, b.Name+" override has no implementation")
	}
	im.put(table.Entry{
		Fn:         fn,
		Namespace:  b.Namespace(),
		Name:       b.ImportName(),
		Capability: b.Name,
		Sig:        sig,
		Key:        key,
	})
	return nil
}

func checkName(namespace, name string) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}
	return nil
}

func (im *Imports) put(e table.Entry) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.funcs[e.Namespace] == nil {
		im.funcs[e.Namespace] = make(map[string]table.Entry)
	}
	im.funcs[e.Namespace][e.Name] = e
}

// Len returns the number of registered functions.
func (im *Imports) Len() int {
	if im == nil {
		return 0
	}
	im.mu.RLock()
	defer im.mu.RUnlock()
	n := 0
	for _, ns := range im.funcs {
		n += len(ns)
	}
	return n
}

// Entries returns the registered functions sorted by namespace then name.
func (im *Imports) Entries() []table.Entry {
	if im == nil {
		return nil
	}
	im.mu.RLock()
	defer im.mu.RUnlock()
	var out []table.Entry
	for _, funcs := range im.funcs {
		for _, e := range funcs {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// toKebabCase converts PascalCase to kebab-case.
// Adjacent acronyms merge into one word: GetHTTPURL -> get-httpurl.
func toKebabCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('-')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
