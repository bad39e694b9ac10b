package hoststring

import (
	"unicode/utf16"

	"github.com/wippyai/wasm-bridge/errors"
)

// String is an immutable sequence of UTF-16 code units.
// The zero value is the empty string.
type String struct {
	units []uint16
}

// Empty is the empty string.
var Empty = String{}

// FromGo converts a Go (UTF-8) string.
func FromGo(s string) String {
	if s == "" {
		return Empty
	}
	return String{units: utf16.Encode([]rune(s))}
}

// FromUnits copies code units into a new String.
func FromUnits(u []uint16) String {
	if len(u) == 0 {
		return Empty
	}
	return String{units: append([]uint16(nil), u...)}
}

// fromOwned wraps u without copying. u must not be modified afterwards.
func fromOwned(u []uint16) String {
	return String{units: u}
}

// Len returns the number of code units.
func (s String) Len() int { return len(s.units) }

// At returns the code unit at i.
func (s String) At(i int) (uint16, bool) {
	if i < 0 || i >= len(s.units) {
		return 0, false
	}
	return s.units[i], true
}

// Units returns a copy of the code units.
func (s String) Units() []uint16 {
	return append([]uint16(nil), s.units...)
}

// String converts to Go UTF-8. Unpaired surrogates become U+FFFD.
func (s String) String() string {
	return string(utf16.Decode(s.units))
}

// CharCodeAt returns the code unit at index i.
func CharCodeAt(s String, i int) (uint16, error) {
	u, ok := s.At(i)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseString, []string{"charCodeAt"}, i, s.Len())
	}
	return u, nil
}

// Compare orders a and b by code unit, returning -1, 0 or 1.
func Compare(a, b String) int {
	n := min(len(a.units), len(b.units))
	for i := 0; i < n; i++ {
		switch {
		case a.units[i] < b.units[i]:
			return -1
		case a.units[i] > b.units[i]:
			return 1
		}
	}
	switch {
	case len(a.units) < len(b.units):
		return -1
	case len(a.units) > len(b.units):
		return 1
	}
	return 0
}

// Concat returns a followed by b.
func Concat(a, b String) String {
	if a.Len() == 0 {
		return b
	}
	if b.Len() == 0 {
		return a
	}
	u := make([]uint16, 0, len(a.units)+len(b.units))
	u = append(u, a.units...)
	u = append(u, b.units...)
	return fromOwned(u)
}

// Equals reports whether a and b hold the same code units.
func Equals(a, b String) bool {
	return Compare(a, b) == 0
}

// FromCharCode returns the one-unit string holding c.
func FromCharCode(c uint16) String {
	return fromOwned([]uint16{c})
}

// Length returns the number of code units in s.
func Length(s String) int { return s.Len() }

// Substring returns the units between start and end. Out of range indices are
// clamped to [0, len] and the bounds are swapped when start > end.
func Substring(s String, start, end int) String {
	n := s.Len()
	start = max(0, min(start, n))
	end = max(0, min(end, n))
	if start > end {
		start, end = end, start
	}
	if start == end {
		return Empty
	}
	return fromOwned(s.units[start:end:end])
}

// Test reports whether v is a host string.
func Test(v any) bool {
	switch v.(type) {
	case String, *String, string:
		return true
	}
	return false
}

// Coerce returns v as a String when it is one.
func Coerce(v any) (String, bool) {
	switch s := v.(type) {
	case String:
		return s, true
	case *String:
		if s == nil {
			return Empty, false
		}
		return *s, true
	case string:
		return FromGo(s), true
	}
	return Empty, false
}
