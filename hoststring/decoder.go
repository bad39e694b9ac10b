package hoststring

import (
	"encoding/binary"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/wippyai/wasm-bridge/errors"
)

// Mode selects how a Decoder treats malformed input.
type Mode int

const (
	// Strict fails with a decode error on malformed input.
	Strict Mode = iota + 1
	// Lenient replaces malformed sequences with U+FFFD.
	Lenient
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Lenient:
		return "lenient"
	}
	return "unknown"
}

// Decoder converts UTF-8 bytes into host strings. A leading byte order mark is
// dropped in both modes.
type Decoder struct {
	mode Mode
}

// NewDecoder returns a decoder for mode. The zero Mode is rejected so callers
// always choose strictness.
func NewDecoder(mode Mode) (*Decoder, error) {
	if mode != Strict && mode != Lenient {
		return nil, errors.InvalidInput(errors.PhaseString, "decoder mode must be strict or lenient")
	}
	return &Decoder{mode: mode}, nil
}

// Mode returns the decoder's mode.
func (d *Decoder) Mode() Mode { return d.mode }

// Fatal reports whether malformed input is an error.
func (d *Decoder) Fatal() bool { return d.mode == Strict }

// Decode converts b.
func (d *Decoder) Decode(b []byte) (String, error) {
	if len(b) == 0 {
		return Empty, nil
	}
	toUTF16 := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	var t transform.Transformer
	if d.mode == Strict {
		t = transform.Chain(encoding.UTF8Validator, unicode.UTF8BOM.NewDecoder(), toUTF16)
	} else {
		t = transform.Chain(unicode.UTF8BOM.NewDecoder(), toUTF16)
	}
	out, _, err := transform.Bytes(t, b)
	if err != nil {
		return Empty, errors.Decode(b, err)
	}
	units := make([]uint16, len(out)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(out[2*i:])
	}
	return fromOwned(units), nil
}
