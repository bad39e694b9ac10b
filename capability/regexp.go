package capability

import (
	"strings"
	"unicode/utf16"

	"github.com/dlclark/regexp2"

	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/value"
)

// RegExp is a compiled regular expression with host regex semantics.
type RegExp struct {
	re        *regexp2.Regexp
	source    string
	flags     string
	global    bool
	sticky    bool
	lastIndex int
}

// NewRegExp compiles source with flags drawn from "dgimsuy".
func NewRegExp(source, flags string) (*RegExp, error) {
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	r := &RegExp{source: source, flags: flags}
	seen := make(map[rune]bool, len(flags))
	for _, f := range flags {
		if seen[f] {
			return nil, &regexpError{"Invalid flags supplied to RegExp constructor '" + flags + "'"}
		}
		seen[f] = true
		switch f {
		case 'g':
			r.global = true
		case 'y':
			r.sticky = true
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'u':
			opts |= regexp2.Unicode
		case 'd':
		default:
			return nil, &regexpError{"Invalid flags supplied to RegExp constructor '" + flags + "'"}
		}
	}
	// dotall is not available together with ECMAScript mode
	if opts&regexp2.Singleline != 0 {
		opts &^= regexp2.ECMAScript
	}
	re, err := regexp2.Compile(source, opts)
	if err != nil {
		return nil, &regexpError{"Invalid regular expression: /" + source + "/" + flags + ": " + err.Error()}
	}
	r.re = re
	return r, nil
}

type regexpError struct{ msg string }

func (e *regexpError) Error() string { return "SyntaxError: " + e.msg }

// Exec runs one match from lastIndex for global and sticky expressions, from
// the start otherwise. It returns nil when nothing matches.
func (r *RegExp) Exec(input hoststring.String) (*Match, error) {
	units := input.Units()
	start := 0
	if r.global || r.sticky {
		start = r.lastIndex
		if start > len(units) {
			r.lastIndex = 0
			return nil, nil
		}
	}
	runes := utf16.Decode(units)
	m, err := r.re.FindRunesMatchStartingAt(runes, runeIndex(units, start))
	if err != nil {
		return nil, err
	}
	if m == nil || (r.sticky && unitIndex(runes, m.Index) != start) {
		if r.global || r.sticky {
			r.lastIndex = 0
		}
		return nil, nil
	}
	out := &Match{Input: input, Index: unitIndex(runes, m.Index)}
	for _, g := range m.Groups() {
		if len(g.Captures) == 0 {
			out.Groups = append(out.Groups, nil)
			continue
		}
		out.Groups = append(out.Groups, hoststring.FromGo(g.String()))
	}
	if r.global || r.sticky {
		r.lastIndex = unitIndex(runes, m.Index+m.Length)
	}
	return out, nil
}

// unitIndex converts a rune offset into a code unit offset.
func unitIndex(runes []rune, i int) int {
	n := 0
	for _, r := range runes[:min(i, len(runes))] {
		n += utf16.RuneLen(r)
	}
	return n
}

// runeIndex converts a code unit offset into a rune offset.
func runeIndex(units []uint16, i int) int {
	n := 0
	for j := 0; j < i && j < len(units); j++ {
		if utf16.IsSurrogate(rune(units[j])) && j+1 < len(units) && utf16.DecodeRune(rune(units[j]), rune(units[j+1])) != 0xFFFD {
			j++
		}
		n++
	}
	return n
}

func (r *RegExp) Get(key string) any {
	switch key {
	case "source":
		return hoststring.FromGo(r.source)
	case "flags":
		return hoststring.FromGo(r.flags)
	case "global":
		return r.global
	case "sticky":
		return r.sticky
	case "ignoreCase":
		return strings.ContainsRune(r.flags, 'i')
	case "multiline":
		return strings.ContainsRune(r.flags, 'm')
	case "lastIndex":
		return float64(r.lastIndex)
	}
	return nil
}

func (r *RegExp) Set(key string, v any) {
	if key != "lastIndex" {
		return
	}
	if f, ok := value.ToNumber(v); ok && f >= 0 {
		r.lastIndex = int(f)
	} else {
		r.lastIndex = 0
	}
}

var regexpKeys = []string{"source", "flags", "global", "sticky", "ignoreCase", "multiline", "lastIndex"}

func (r *RegExp) Delete(string) bool { return false }
func (r *RegExp) Keys() []string     { return append([]string(nil), regexpKeys...) }
func (r *RegExp) Has(key string) bool {
	for _, k := range regexpKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (r *RegExp) String() string { return "/" + r.source + "/" + r.flags }

// Match is an exec result: the groups by index plus "index" and "input".
// Unmatched groups are undefined.
type Match struct {
	Input  hoststring.String
	Groups []any
	Index  int
}

func (m *Match) Get(key string) any {
	switch key {
	case "index":
		return float64(m.Index)
	case "input":
		return m.Input
	case "length":
		return float64(len(m.Groups))
	}
	a := value.NewArray(m.Groups...)
	return a.Get(key)
}

func (m *Match) Set(string, any)    {}
func (m *Match) Delete(string) bool { return false }
func (m *Match) Has(key string) bool {
	switch key {
	case "index", "input", "length":
		return true
	}
	return value.NewArray(m.Groups...).Has(key)
}
func (m *Match) Keys() []string {
	return append(value.NewArray(m.Groups...).Keys(), "index", "input")
}

var escapePattern = regexp2.MustCompile(`[[\]{}()*+?.\\^$|]`, regexp2.ECMAScript)

// EscapeRegExp backslash-escapes regex metacharacters in s.
func EscapeRegExp(s string) string {
	out, err := escapePattern.ReplaceFunc(s, func(m regexp2.Match) string {
		return `\` + m.String()
	}, -1, -1)
	if err != nil {
		return s
	}
	return out
}
