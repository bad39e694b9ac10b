package value

import (
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-bridge/hoststring"
)

// ToNumber converts v to a number. ok is false for values with no numeric
// meaning, in which case the result is NaN.
func ToNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), false
	case NullValue:
		return 0, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if s, ok := hoststring.Coerce(v); ok {
		t := strings.TrimSpace(s.String())
		if t == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return math.NaN(), false
		}
		return f, true
	}
	return math.NaN(), false
}

// FormatNumber renders f the way host number-to-string conversion does.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		// exponent without zero padding: 1e-7, not 1e-07
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[0]
		exp = strings.TrimLeft(exp[1:], "0")
		return mant + "e" + string(sign) + exp
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ToString converts v to its string form.
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case NullValue:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case *Array:
		parts := make([]string, x.Len())
		for i, it := range x.items {
			if !IsNullish(it) {
				parts[i] = ToString(it)
			}
		}
		return strings.Join(parts, ",")
	case Func:
		return "function () { [native code] }"
	case interface{ String() string }:
		return x.String()
	}
	if f, ok := ToNumber(v); ok && Classify(v) == TagNumber {
		return FormatNumber(f)
	}
	if s, ok := hoststring.Coerce(v); ok {
		return s.String()
	}
	return "[object Object]"
}

// Truthy reports the boolean meaning of v.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil, NullValue:
		return false
	case bool:
		return x
	}
	if Classify(v) == TagNumber {
		f, _ := ToNumber(v)
		return f != 0 && !math.IsNaN(f)
	}
	if s, ok := hoststring.Coerce(v); ok {
		return s.Len() > 0
	}
	return true
}

// StrictEquals compares without coercion. Numbers compare by value, strings
// by code units, everything else by identity.
func StrictEquals(a, b any) bool {
	ta, tb := Classify(a), Classify(b)
	if ta != tb {
		return false
	}
	switch ta {
	case TagUndefined:
		return true
	case TagNumber:
		fa, _ := ToNumber(a)
		fb, _ := ToNumber(b)
		return fa == fb
	case TagString:
		sa, _ := hoststring.Coerce(a)
		sb, _ := hoststring.Coerce(b)
		return hoststring.Equals(sa, sb)
	}
	return identical(a, b)
}

// SameValue is StrictEquals except NaN equals itself and +0 differs from -0.
func SameValue(a, b any) bool {
	if Classify(a) == TagNumber && Classify(b) == TagNumber {
		fa, _ := ToNumber(a)
		fb, _ := ToNumber(b)
		if math.IsNaN(fa) && math.IsNaN(fb) {
			return true
		}
		return fa == fb && math.Signbit(fa) == math.Signbit(fb)
	}
	return StrictEquals(a, b)
}

func identical(a, b any) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}

// PropertyKey converts a key value to a property name.
func PropertyKey(v any) (string, bool) {
	if s, ok := hoststring.Coerce(v); ok {
		return s.String(), true
	}
	if Classify(v) == TagNumber {
		f, _ := ToNumber(v)
		return FormatNumber(f), true
	}
	switch v.(type) {
	case nil, NullValue, bool:
		return ToString(v), true
	}
	return "", false
}
