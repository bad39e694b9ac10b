package capability

import (
	"bytes"
	"context"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/dlclark/regexp2"
	"github.com/goccy/go-json"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/async"
	"github.com/wippyai/wasm-bridge/callback"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/view"
)

var floatPattern = regexp2.MustCompile(`^\s*[+-]?(?:Infinity|NaN|(?:\.\d+|\d+(?:\.\d*)?)(?:[eE][+-]?\d+)?)\s*$`, regexp2.ECMAScript)

// ParseFloat converts s strictly: the whole string, less surrounding
// whitespace, must be a decimal literal, Infinity or NaN. Anything else is NaN.
func ParseFloat(s string) float64 {
	ok, err := floatPattern.MatchString(s)
	if err != nil || !ok {
		return math.NaN()
	}
	t := strings.TrimSpace(s)
	neg := strings.HasPrefix(t, "-")
	switch strings.TrimLeft(t, "+-") {
	case "Infinity":
		if neg {
			return math.Inf(-1)
		}
		return math.Inf(1)
	case "NaN":
		return math.NaN()
	}
	f, err := strconv.ParseFloat(t, 64)
	if ne, ok := err.(*strconv.NumError); ok && ne.Err != strconv.ErrRange {
		return math.NaN()
	}
	return f
}

// Stringify encodes v as JSON text preserving object key order. ok is false
// when v itself has no JSON form (undefined, functions).
func Stringify(v any) (string, bool, error) {
	var buf bytes.Buffer
	ok, err := encode(&buf, v, 0)
	if err != nil || !ok {
		return "", false, err
	}
	return buf.String(), true, nil
}

const maxDepth = 512

func skipped(v any) bool {
	switch v.(type) {
	case nil, value.Func, *callback.Wrapper:
		return true
	}
	return false
}

func encode(buf *bytes.Buffer, v any, depth int) (bool, error) {
	if depth > maxDepth {
		return false, errors.InvalidInput(errors.PhaseHost, "converting circular structure to JSON")
	}
	if skipped(v) {
		return false, nil
	}
	switch x := v.(type) {
	case value.NullValue:
		buf.WriteString("null")
		return true, nil
	case bool:
		buf.WriteString(strconv.FormatBool(x))
		return true, nil
	case *value.Array:
		return true, encodeList(buf, x.Items(), depth)
	case []any:
		return true, encodeList(buf, x, depth)
	case view.View:
		items := make([]any, x.Len())
		for i := range items {
			f, err := x.Float(i)
			if err != nil {
				return false, err
			}
			items[i] = f
		}
		return true, encodeObject(buf, indexKeys(len(items)), func(k string) any {
			i, _ := strconv.Atoi(k)
			return items[i]
		}, depth)
	case *async.Promise, *view.ArrayBuffer, *view.SharedArrayBuffer, *view.DataView:
		buf.WriteString("{}")
		return true, nil
	case value.Object:
		return true, encodeObject(buf, x.Keys(), x.Get, depth)
	}
	switch value.Classify(v) {
	case value.TagNumber:
		f, _ := value.ToNumber(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf.WriteString("null")
		} else {
			buf.WriteString(value.FormatNumber(f))
		}
		return true, nil
	case value.TagString:
		s, _ := hoststring.Coerce(v)
		quote(buf, s.Units())
		return true, nil
	}
	buf.WriteString("{}")
	return true, nil
}

const hexDigits = "0123456789abcdef"

// quote writes units as a JSON string literal. Markup characters stay
// literal and unpaired surrogates are written as \uXXXX escapes.
func quote(buf *bytes.Buffer, units []uint16) {
	buf.WriteByte('"')
	for i := 0; i < len(units); i++ {
		c := units[i]
		switch {
		case c == '"' || c == '\\':
			buf.WriteByte('\\')
			buf.WriteByte(byte(c))
		case c < 0x20:
			switch c {
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				escapeUnit(buf, c)
			}
		case utf16.IsSurrogate(rune(c)):
			if c < 0xDC00 && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] <= 0xDFFF {
				buf.WriteRune(utf16.DecodeRune(rune(c), rune(units[i+1])))
				i++
				continue
			}
			escapeUnit(buf, c)
		default:
			buf.WriteRune(rune(c))
		}
	}
	buf.WriteByte('"')
}

func escapeUnit(buf *bytes.Buffer, c uint16) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[c>>12&0xF])
	buf.WriteByte(hexDigits[c>>8&0xF])
	buf.WriteByte(hexDigits[c>>4&0xF])
	buf.WriteByte(hexDigits[c&0xF])
}

func indexKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = strconv.Itoa(i)
	}
	return keys
}

func encodeList(buf *bytes.Buffer, items []any, depth int) error {
	buf.WriteByte('[')
	for i, it := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		ok, err := encode(buf, it, depth+1)
		if err != nil {
			return err
		}
		if !ok {
			buf.WriteString("null")
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, keys []string, get func(string) any, depth int) error {
	buf.WriteByte('{')
	first := true
	for _, k := range keys {
		v := get(k)
		if skipped(v) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		quote(buf, hoststring.FromGo(k).Units())
		buf.WriteByte(':')
		if _, err := encode(buf, v, depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// Parse decodes JSON text into host values. Objects keep their key order.
func Parse(text string) (any, error) {
	data := []byte(text)
	if !json.Valid(data) {
		return nil, errors.InvalidInput(errors.PhaseHost, "invalid JSON text")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	v, err := decode(dec)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "parse JSON")
	}
	return v, nil
}

func decode(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := value.NewObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, io.ErrUnexpectedEOF
				}
				v, err := decode(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, v)
			}
			_, err := dec.Token()
			return obj, err
		case '[':
			arr := value.NewArray()
			for dec.More() {
				v, err := decode(dec)
				if err != nil {
					return nil, err
				}
				arr.Push(v)
			}
			_, err := dec.Token()
			return arr, err
		}
	case string:
		return hoststring.FromGo(t), nil
	case float64, bool:
		return t, nil
	case nil:
		return value.Null, nil
	}
	return nil, io.ErrUnexpectedEOF
}

func (s *set) passthrough() {
	s.add("parse-float", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeF64(ParseFloat(value.ToString(s.val(stack, 0))))
	})
	s.add("json-stringify", func(_ context.Context, _ api.Module, stack []uint64) {
		text, ok, err := Stringify(s.val(stack, 0))
		if err != nil {
			trap(err)
		}
		if !ok {
			s.ret(stack, nil)
			return
		}
		s.ret(stack, hoststring.FromGo(text))
	})
	s.add("json-parse", func(_ context.Context, _ api.Module, stack []uint64) {
		v, err := Parse(s.str(stack, 0).String())
		if err != nil {
			trap(err)
		}
		s.ret(stack, v)
	})
	s.add("regexp-new", func(_ context.Context, _ api.Module, stack []uint64) {
		flags := ""
		if f := s.val(stack, 1); f != nil {
			flags = value.ToString(f)
		}
		re, err := NewRegExp(s.str(stack, 0).String(), flags)
		if err != nil {
			// construction failures come back as the error's string form
			s.ret(stack, hoststring.FromGo(err.Error()))
			return
		}
		s.ret(stack, re)
	})
	s.add("regexp-exec", func(_ context.Context, _ api.Module, stack []uint64) {
		m, err := as[*RegExp](s, stack, 0, "regexp").Exec(s.str(stack, 1))
		if err != nil {
			trap(errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "regexp exec"))
		}
		if m == nil {
			s.ret(stack, value.Null)
			return
		}
		s.ret(stack, m)
	})
	s.add("regexp-test", func(_ context.Context, _ api.Module, stack []uint64) {
		m, err := as[*RegExp](s, stack, 0, "regexp").Exec(s.str(stack, 1))
		if err != nil {
			trap(errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "regexp test"))
		}
		stack[0] = boolean(m != nil)
	})
	s.add("regexp-escape", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, hoststring.FromGo(EscapeRegExp(s.str(stack, 0).String())))
	})
	s.add("is-regexp", func(_ context.Context, _ api.Module, stack []uint64) {
		_, ok := s.val(stack, 0).(*RegExp)
		stack[0] = boolean(ok)
	})
}
