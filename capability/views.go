package capability

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/view"
)

func (s *set) views() {
	for _, lane := range view.Lanes {
		s.add("new-"+lane.String()+"-array", func(_ context.Context, _ api.Module, stack []uint64) {
			v, err := view.AllocView(lane, int(u32(stack, 0)))
			if err != nil {
				trap(err)
			}
			s.ret(stack, v)
		})
		s.add(lane.String()+"-array-view", func(_ context.Context, _ api.Module, stack []uint64) {
			buf := as[view.Buffer](s, stack, 0, "buffer")
			v, err := view.NewView(lane, buf, int(u32(stack, 1)), int(u32(stack, 2)))
			if err != nil {
				trap(err)
			}
			s.ret(stack, v)
		})
		s.add("dataview-get-"+lane.String(), func(_ context.Context, _ api.Module, stack []uint64) {
			d := as[*view.DataView](s, stack, 0, "DataView")
			f, err := d.GetFloat(lane, int(u32(stack, 1)), flag(stack, 2))
			if err != nil {
				trap(err)
			}
			stack[0] = api.EncodeF64(f)
		})
		s.add("dataview-set-"+lane.String(), func(_ context.Context, _ api.Module, stack []uint64) {
			d := as[*view.DataView](s, stack, 0, "DataView")
			if err := d.SetFloat(lane, int(u32(stack, 1)), f64(stack, 2), flag(stack, 3)); err != nil {
				trap(err)
			}
		})
	}

	s.add("typed-get", func(_ context.Context, _ api.Module, stack []uint64) {
		f, err := as[view.View](s, stack, 0, "typed array").Float(int(u32(stack, 1)))
		if err != nil {
			trap(err)
		}
		stack[0] = api.EncodeF64(f)
	})
	s.add("typed-set", func(_ context.Context, _ api.Module, stack []uint64) {
		if err := as[view.View](s, stack, 0, "typed array").SetFloat(int(u32(stack, 1)), f64(stack, 2)); err != nil {
			trap(err)
		}
	})
	s.add("typed-lane", func(_ context.Context, _ api.Module, stack []uint64) {
		lane := int32(-1)
		if v, ok := s.val(stack, 0).(view.View); ok {
			lane = int32(v.Lane())
		}
		stack[0] = api.EncodeI32(lane)
	})
	s.add("typed-subview", func(_ context.Context, _ api.Module, stack []uint64) {
		sub, err := as[view.View](s, stack, 0, "typed array").Slice(int(u32(stack, 1)), int(u32(stack, 2)))
		if err != nil {
			trap(err)
		}
		s.ret(stack, sub)
	})
	s.add("typed-set-from", func(_ context.Context, _ api.Module, stack []uint64) {
		dst := as[view.View](s, stack, 0, "typed array")
		src := as[view.View](s, stack, 1, "typed array")
		if err := view.SetFrom(dst, src, int(u32(stack, 2))); err != nil {
			trap(err)
		}
	})
	s.add("typed-copy", func(_ context.Context, _ api.Module, stack []uint64) {
		dst := as[view.View](s, stack, 0, "typed array")
		src := as[view.View](s, stack, 2, "typed array")
		if err := view.CopyElements(dst, int(u32(stack, 1)), src, int(u32(stack, 3)), int(u32(stack, 4))); err != nil {
			trap(err)
		}
	})
	s.add("copy-from-guest", func(_ context.Context, _ api.Module, stack []uint64) {
		dst := as[view.View](s, stack, 0, "typed array")
		if err := view.CopyFromGuest(dst, int(u32(stack, 1)), s.memory(), u32(stack, 2), int(u32(stack, 3))); err != nil {
			trap(err)
		}
	})
	s.add("copy-to-guest", func(_ context.Context, _ api.Module, stack []uint64) {
		src := as[view.View](s, stack, 1, "typed array")
		if err := view.CopyToGuest(s.memory(), u32(stack, 0), src, int(u32(stack, 2)), int(u32(stack, 3))); err != nil {
			trap(err)
		}
	})

	s.add("new-array-buffer", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, view.NewArrayBuffer(int(u32(stack, 0))))
	})
	s.add("new-shared-array-buffer", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, view.NewSharedArrayBuffer(int(u32(stack, 0))))
	})
	s.add("new-dataview", func(_ context.Context, _ api.Module, stack []uint64) {
		buf := as[view.Buffer](s, stack, 0, "buffer")
		d, err := view.NewDataView(buf, int(u32(stack, 1)), int(u32(stack, 2)))
		if err != nil {
			trap(err)
		}
		s.ret(stack, d)
	})
	s.add("buffer-kind", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeU32(uint32(view.KindOf(s.val(stack, 0))))
	})
	s.add("byte-length", func(_ context.Context, _ api.Module, stack []uint64) {
		switch x := s.val(stack, 0).(type) {
		case view.View:
			stack[0] = api.EncodeU32(uint32(x.ByteLength()))
		case *view.DataView:
			stack[0] = api.EncodeU32(uint32(x.ByteLength()))
		case view.Buffer:
			stack[0] = api.EncodeU32(uint32(x.ByteLength()))
		default:
			trap(mismatch("buffer or view", x))
		}
	})
	s.add("byte-offset", func(_ context.Context, _ api.Module, stack []uint64) {
		switch x := s.val(stack, 0).(type) {
		case view.View:
			stack[0] = api.EncodeU32(uint32(x.ByteOffset()))
		case *view.DataView:
			stack[0] = api.EncodeU32(uint32(x.ByteOffset()))
		default:
			trap(mismatch("view", x))
		}
	})
	s.add("view-buffer", func(_ context.Context, _ api.Module, stack []uint64) {
		switch x := s.val(stack, 0).(type) {
		case view.View:
			s.ret(stack, x.Buffer())
		case *view.DataView:
			s.ret(stack, x.Buffer())
		default:
			trap(mismatch("view", x))
		}
	})
	s.add("memory-buffer", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, view.NewMemoryBuffer(s.memory(), s.env.SharedMemory()))
	})
	s.add("slice-copy", func(_ context.Context, _ api.Module, stack []uint64) {
		buf := view.NewMemoryBuffer(s.memory(), s.env.SharedMemory())
		d, err := view.SliceCopy(buf, int(u32(stack, 0)), int(u32(stack, 1)))
		if err != nil {
			trap(err)
		}
		s.ret(stack, d)
	})
	s.add("buffer-slice", func(_ context.Context, _ api.Module, stack []uint64) {
		buf := as[view.Buffer](s, stack, 0, "buffer")
		s.ret(stack, sliceBuffer(buf, int(u32(stack, 1)), int(u32(stack, 2))))
	})
}

// sliceBuffer copies [begin, end) of buf into a fresh buffer of the same
// kind, clamping both ends to the buffer like ArrayBuffer.prototype.slice.
func sliceBuffer(buf view.Buffer, begin, end int) view.Buffer {
	data, err := buf.Bytes()
	if err != nil {
		trap(err)
	}
	n := len(data)
	begin = min(begin, n)
	end = min(max(end, begin), n)
	if buf.Kind() == view.KindShared {
		out := view.NewSharedArrayBuffer(end - begin)
		b, _ := out.Bytes()
		copy(b, data[begin:end])
		return out
	}
	return view.ArrayBufferOf(append([]byte(nil), data[begin:end]...))
}
