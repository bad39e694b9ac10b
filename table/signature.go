package table

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-bridge/errors"
)

// Signature is a core function type together with the WIT text it came from.
type Signature struct {
	WIT     string
	Params  []api.ValueType
	Results []api.ValueType
}

// Equal reports whether two signatures have the same core types.
func (s Signature) Equal(o Signature) bool {
	return sameTypes(s.Params, o.Params) && sameTypes(s.Results, o.Results)
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the core form, e.g. "(i32,f64)->i32".
func (s Signature) String() string {
	var b strings.Builder
	writeTypes(&b, s.Params)
	b.WriteString("->")
	writeTypes(&b, s.Results)
	return b.String()
}

func writeTypes(b *strings.Builder, ts []api.ValueType) {
	b.WriteByte('(')
	for i, t := range ts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(api.ValueTypeName(t))
	}
	b.WriteByte(')')
}

var funcPattern = regexp.MustCompile(`^func\s*\(([^)]*)\)(?:\s*->\s*(.+))?$`)

// ParseSignature parses WIT function text such as
// "func(o: u32, key: u32) -> u32" into core value types.
func ParseSignature(text string) (Signature, error) {
	text = strings.TrimSpace(text)
	m := funcPattern.FindStringSubmatch(text)
	if m == nil {
		return Signature{}, errors.InvalidInput(errors.PhaseLink, "not a WIT function type: "+text)
	}
	sig := Signature{WIT: text}

	for _, p := range splitParams(m[1]) {
		typStr := p
		if idx := strings.LastIndex(p, ":"); idx != -1 {
			typStr = strings.TrimSpace(p[idx+1:])
		}
		vt, err := coreType(typStr)
		if err != nil {
			return Signature{}, err
		}
		sig.Params = append(sig.Params, vt)
	}

	result := strings.TrimSpace(m[2])
	if result != "" && result != "()" {
		vt, err := coreType(result)
		if err != nil {
			return Signature{}, err
		}
		sig.Results = []api.ValueType{vt}
	}
	return sig, nil
}

// MustParseSignature is ParseSignature for static catalog text.
func MustParseSignature(text string) Signature {
	sig, err := ParseSignature(text)
	if err != nil {
		panic(err)
	}
	return sig
}

// splitParams splits a parameter list on top-level commas.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}
	return result
}

// witPrimitives names the WIT types that lower to a single core value.
var witPrimitives = map[string]wit.Type{
	"bool": wit.Bool{},
	"u8":   wit.U8{},
	"s8":   wit.S8{},
	"u16":  wit.U16{},
	"s16":  wit.S16{},
	"u32":  wit.U32{},
	"s32":  wit.S32{},
	"u64":  wit.U64{},
	"s64":  wit.S64{},
	"f32":  wit.F32{},
	"f64":  wit.F64{},
	"char": wit.Char{},
}

// coreType lowers a primitive WIT type to its single core value type.
func coreType(s string) (api.ValueType, error) {
	t, ok := witPrimitives[strings.TrimSpace(s)]
	if !ok {
		return 0, errors.Unsupported(errors.PhaseLink, "WIT type "+s+" has no single core representation")
	}
	return CoreType(t)
}

// CoreType returns the core value type a scalar WIT type crosses the
// boundary as.
func CoreType(t wit.Type) (api.ValueType, error) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, nil
	case wit.U64, wit.S64:
		return api.ValueTypeI64, nil
	case wit.F32:
		return api.ValueTypeF32, nil
	case wit.F64:
		return api.ValueTypeF64, nil
	}
	return 0, errors.Unsupported(errors.PhaseLink, fmt.Sprintf("WIT type %T has no single core representation", t))
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	moduleType  = reflect.TypeOf((*api.Module)(nil)).Elem()
)

// SignatureOf derives the core signature of a Go function the way wazero's
// WithFunc does: an optional context.Context, an optional api.Module, then
// numeric parameters and at most one numeric result.
func SignatureOf(fn any) (Signature, error) {
	rt := reflect.TypeOf(fn)
	if rt == nil || rt.Kind() != reflect.Func {
		return Signature{}, errors.InvalidInput(errors.PhaseHost, "handler must be a function")
	}
	var sig Signature
	i := 0
	if i < rt.NumIn() && rt.In(i) == contextType {
		i++
	}
	if i < rt.NumIn() && rt.In(i) == moduleType {
		i++
	}
	for ; i < rt.NumIn(); i++ {
		vt, ok := goCoreType(rt.In(i))
		if !ok {
			return Signature{}, errors.Unsupported(errors.PhaseHost, "parameter type "+rt.In(i).String())
		}
		sig.Params = append(sig.Params, vt)
	}
	if rt.NumOut() > 1 {
		return Signature{}, errors.Unsupported(errors.PhaseHost, "more than one result")
	}
	for j := 0; j < rt.NumOut(); j++ {
		vt, ok := goCoreType(rt.Out(j))
		if !ok {
			return Signature{}, errors.Unsupported(errors.PhaseHost, "result type "+rt.Out(j).String())
		}
		sig.Results = append(sig.Results, vt)
	}
	sig.WIT = rt.String()
	return sig, nil
}

func goCoreType(t reflect.Type) (api.ValueType, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return api.ValueTypeI32, true
	case reflect.Int64, reflect.Uint64, reflect.Uintptr:
		return api.ValueTypeI64, true
	case reflect.Float32:
		return api.ValueTypeF32, true
	case reflect.Float64:
		return api.ValueTypeF64, true
	}
	return 0, false
}
