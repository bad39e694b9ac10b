package capability

import (
	"context"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/view"
)

const (
	exportI16Get = "$wasmI16ArrayGet"
	exportI16Set = "$wasmI16ArraySet"
)

// guestArray reads and writes the elements of a guest-managed i16 array
// through its accessor exports, one code unit per call.
type guestArray struct {
	ctx context.Context
	env Env
	ref uint32
}

func (g guestArray) ReadUnits(dst []uint16, off int) error {
	for i := range dst {
		res, err := g.env.CallExport(g.ctx, exportI16Get, api.EncodeU32(g.ref), api.EncodeU32(uint32(off+i)))
		if err != nil {
			return err
		}
		if len(res) == 0 {
			return errors.InvalidInput(errors.PhaseString, exportI16Get+" returned no value")
		}
		dst[i] = uint16(res[0])
	}
	return nil
}

func (g guestArray) WriteUnits(off int, src []uint16) error {
	for i, u := range src {
		if _, err := g.env.CallExport(g.ctx, exportI16Set, api.EncodeU32(g.ref), api.EncodeU32(uint32(off+i)), api.EncodeU32(uint32(u))); err != nil {
			return err
		}
	}
	return nil
}

func (s *set) fromCharCodeArray(ctx context.Context, _ api.Module, stack []uint64) {
	r := guestArray{ctx: ctx, env: s.env, ref: u32(stack, 0)}
	str, err := hoststring.FromCodeUnits(r, int(u32(stack, 1)), int(u32(stack, 2)))
	if err != nil {
		trap(err)
	}
	s.ret(stack, str)
}

func (s *set) intoCharCodeArray(ctx context.Context, _ api.Module, stack []uint64) {
	str := s.str(stack, 0)
	w := guestArray{ctx: ctx, env: s.env, ref: u32(stack, 1)}
	n, err := hoststring.IntoCodeUnits(str, w, int(u32(stack, 2)))
	if err != nil {
		trap(err)
	}
	stack[0] = api.EncodeU32(uint32(n))
}

func (s *set) strings() {
	s.add("string-from-code-units", s.fromCharCodeArray)
	s.add("string-into-code-units", s.intoCharCodeArray)
	s.add("string-from-guest", func(_ context.Context, _ api.Module, stack []uint64) {
		units, err := view.ReadGuest[uint16](s.memory(), u32(stack, 0), int(u32(stack, 1)))
		if err != nil {
			trap(err)
		}
		s.ret(stack, hoststring.FromUnits(units))
	})
	s.add("string-into-guest", func(_ context.Context, _ api.Module, stack []uint64) {
		str := s.str(stack, 0)
		if err := view.WriteGuest(s.memory(), u32(stack, 1), str.Units()); err != nil {
			trap(err)
		}
		stack[0] = api.EncodeU32(uint32(str.Len()))
	})
	s.add("text-decoder-new", func(_ context.Context, _ api.Module, stack []uint64) {
		mode := hoststring.Lenient
		if flag(stack, 0) {
			mode = hoststring.Strict
		}
		dec, err := hoststring.NewDecoder(mode)
		if err != nil {
			trap(err)
		}
		s.ret(stack, dec)
	})
	s.add("text-decode", func(_ context.Context, _ api.Module, stack []uint64) {
		dec := as[*hoststring.Decoder](s, stack, 0, "TextDecoder")
		str, err := dec.Decode(bytesOf(s.val(stack, 1)))
		if err != nil {
			trap(err)
		}
		s.ret(stack, str)
	})
	s.add("text-decode-guest", func(_ context.Context, _ api.Module, stack []uint64) {
		dec := as[*hoststring.Decoder](s, stack, 0, "TextDecoder")
		b, err := view.ReadGuest[uint8](s.memory(), u32(stack, 1), int(u32(stack, 2)))
		if err != nil {
			trap(err)
		}
		str, err := dec.Decode(b)
		if err != nil {
			trap(err)
		}
		s.ret(stack, str)
	})
	s.add("string-from-utf8-guest", func(_ context.Context, _ api.Module, stack []uint64) {
		b, err := view.ReadGuest[uint8](s.memory(), u32(stack, 0), int(u32(stack, 1)))
		if err != nil {
			trap(err)
		}
		if !utf8.Valid(b) {
			trap(errors.Decode(b, nil))
		}
		s.ret(stack, hoststring.FromGo(string(b)))
	})
	s.add("text-encode", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, view.Of([]uint8(s.str(stack, 0).String())...))
	})
	s.add("parse-number", func(_ context.Context, _ api.Module, stack []uint64) {
		f, _ := value.ToNumber(s.val(stack, 0))
		stack[0] = api.EncodeF64(f)
	})
}

// bytesOf returns the bytes behind a buffer, view or DataView argument.
func bytesOf(v any) []byte {
	var (
		buf    view.Buffer
		off, n int
	)
	switch x := v.(type) {
	case nil:
		return nil
	case view.View:
		buf, off, n = x.Buffer(), x.ByteOffset(), x.ByteLength()
	case *view.DataView:
		buf, off, n = x.Buffer(), x.ByteOffset(), x.ByteLength()
	case view.Buffer:
		buf, off, n = x, 0, x.ByteLength()
	default:
		trap(mismatch("buffer source", v))
	}
	d, err := view.SliceCopy(buf, off, n)
	if err != nil {
		trap(err)
	}
	out, _ := d.Buffer().Bytes()
	return out
}

func (s *set) polyfill() {
	s.add("js-string-cast", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, s.str(stack, 0))
	})
	s.add("js-string-test", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = boolean(hoststring.Test(s.val(stack, 0)))
	})
	s.add("js-string-from-char-code-array", s.fromCharCodeArray)
	s.add("js-string-into-char-code-array", s.intoCharCodeArray)
	s.add("js-string-from-char-code", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, hoststring.FromCharCode(uint16(u32(stack, 0))))
	})
	s.add("js-string-char-code-at", func(_ context.Context, _ api.Module, stack []uint64) {
		c, err := hoststring.CharCodeAt(s.str(stack, 0), int(u32(stack, 1)))
		if err != nil {
			trap(err)
		}
		stack[0] = api.EncodeU32(uint32(c))
	})
	s.add("js-string-length", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeU32(uint32(hoststring.Length(s.str(stack, 0))))
	})
	s.add("js-string-concat", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, hoststring.Concat(s.str(stack, 0), s.str(stack, 1)))
	})
	s.add("js-string-substring", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, hoststring.Substring(s.str(stack, 0), int(i32(stack, 1)), int(i32(stack, 2))))
	})
	s.add("js-string-equals", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = boolean(hoststring.Equals(s.str(stack, 0), s.str(stack, 1)))
	})
	s.add("js-string-compare", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeI32(int32(hoststring.Compare(s.str(stack, 0), s.str(stack, 1))))
	})
}
