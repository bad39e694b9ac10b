package hoststring

import (
	"testing"

	"github.com/wippyai/wasm-bridge/errors"
)

func TestNativeOps(t *testing.T) {
	hello := FromGo("hello")
	world := FromGo("world")

	if Length(hello) != 5 {
		t.Fatalf("Length = %d, want 5", Length(hello))
	}
	c, err := CharCodeAt(hello, 1)
	if err != nil || c != 'e' {
		t.Fatalf("CharCodeAt(1) = %d, %v", c, err)
	}
	if _, err := CharCodeAt(hello, 5); !errors.IsRangeError(err) {
		t.Fatalf("CharCodeAt(5) should be a range error, got %v", err)
	}
	if got := Concat(hello, world).String(); got != "helloworld" {
		t.Fatalf("Concat = %q", got)
	}
	if !Equals(hello, FromGo("hello")) || Equals(hello, world) {
		t.Fatal("Equals mismatch")
	}
	if FromCharCode('A').String() != "A" {
		t.Fatal("FromCharCode mismatch")
	}
	if !Test(hello) || !Test("go") || Test(42) {
		t.Fatal("Test mismatch")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"abc", "abc", 0},
		{"ab", "abc", -1},
		{"abc", "ab", 1},
		{"", "", 0},
	}
	for _, tt := range tests {
		if got := Compare(FromGo(tt.a), FromGo(tt.b)); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSubstring(t *testing.T) {
	s := FromGo("abcdef")
	tests := []struct {
		start, end int
		want       string
	}{
		{1, 3, "bc"},
		{3, 1, "bc"},
		{-5, 2, "ab"},
		{4, 100, "ef"},
		{2, 2, ""},
	}
	for _, tt := range tests {
		if got := Substring(s, tt.start, tt.end).String(); got != tt.want {
			t.Errorf("Substring(%d, %d) = %q, want %q", tt.start, tt.end, got, tt.want)
		}
	}
}

// countingReader records every chunk request.
type countingReader struct {
	units  Units
	chunks []int
}

func (r *countingReader) ReadUnits(dst []uint16, off int) error {
	r.chunks = append(r.chunks, len(dst))
	return r.units.ReadUnits(dst, off)
}

func TestFromCodeUnits_ChunkBoundaries(t *testing.T) {
	for _, n := range []int{0, 1, 499, 500, 501, 999, 1000, 10000} {
		src := make(Units, n)
		for i := range src {
			// include surrogate halves to prove they survive untouched
			src[i] = uint16(0xD800 + i%0x2800)
		}
		r := &countingReader{units: src}
		got, err := FromCodeUnits(r, 0, n)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		ref := FromUnits(src)
		if !Equals(got, ref) {
			t.Fatalf("n=%d: chunked result differs from reference", n)
		}
		for _, c := range r.chunks {
			if c > ChunkSize || c == 0 {
				t.Fatalf("n=%d: chunk of %d units", n, c)
			}
		}
		if want := (n + ChunkSize - 1) / ChunkSize; len(r.chunks) != want {
			t.Fatalf("n=%d: %d chunks, want %d", n, len(r.chunks), want)
		}
	}
}

func TestFromCodeUnits_Range(t *testing.T) {
	src := Units{'a', 'b', 'c', 'd'}
	got, err := FromCodeUnits(src, 1, 3)
	if err != nil || got.String() != "bc" {
		t.Fatalf("got %q, %v", got.String(), err)
	}
	got, err = FromCodeUnits(src, 3, 1)
	if err != nil || got.Len() != 0 {
		t.Fatalf("end <= start should give empty string, got %q, %v", got.String(), err)
	}
	if _, err := FromCodeUnits(src, 2, 10); !errors.IsRangeError(err) {
		t.Fatalf("reading past the array should fail with range error, got %v", err)
	}
}

func TestIntoCodeUnits_RoundTrip(t *testing.T) {
	s := FromUnits([]uint16{'x', 0xD83D, 0xDE00, 0xDC00, 'y'})
	dst := make(Units, 10)
	n, err := IntoCodeUnits(s, dst, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != s.Len() {
		t.Fatalf("wrote %d, want %d", n, s.Len())
	}
	back, err := FromCodeUnits(dst, 2, 2+n)
	if err != nil {
		t.Fatal(err)
	}
	if !Equals(back, s) {
		t.Fatalf("round trip changed units: %v", back.Units())
	}

	if n, err := IntoCodeUnits(Empty, dst, 0); n != 0 || err != nil {
		t.Fatalf("empty string wrote %d, %v", n, err)
	}
	if _, err := IntoCodeUnits(s, dst, 8); !errors.IsRangeError(err) {
		t.Fatalf("overflowing destination should fail, got %v", err)
	}
}
