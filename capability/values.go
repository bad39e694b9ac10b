package capability

import (
	"context"
	"math"
	"strconv"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/handle"
	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/view"
)

func (s *set) values() {
	s.add("type-tag", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeU32(uint32(value.Classify(s.val(stack, 0))))
	})
	s.add("object-keys", func(_ context.Context, _ api.Module, stack []uint64) {
		keys := s.object(stack, 0).Keys()
		items := make([]any, len(keys))
		for i, k := range keys {
			items[i] = hoststring.FromGo(k)
		}
		s.ret(stack, value.NewArray(items...))
	})
	s.add("new-array", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, value.NewArray(make([]any, u32(stack, 0))...))
	})
	s.add("length", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeU32(uint32(length(s.val(stack, 0))))
	})
	s.add("index-get", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, indexGet(s.val(stack, 0), int(u32(stack, 1))))
	})
	s.add("index-set", func(_ context.Context, _ api.Module, stack []uint64) {
		indexSet(s.val(stack, 0), int(u32(stack, 1)), s.val(stack, 2))
	})
	s.add("array-pop", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, as[*value.Array](s, stack, 0, "array").Pop())
	})
	s.add("array-push", func(_ context.Context, _ api.Module, stack []uint64) {
		n := as[*value.Array](s, stack, 0, "array").Push(s.val(stack, 1))
		stack[0] = api.EncodeU32(uint32(n))
	})
	s.add("is-undefined", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = boolean(value.IsUndefined(s.val(stack, 0)))
	})
	s.add("is-null", func(_ context.Context, _ api.Module, stack []uint64) {
		_, ok := s.val(stack, 0).(value.NullValue)
		stack[0] = boolean(ok)
	})
	s.add("is-plain-object", func(_ context.Context, _ api.Module, stack []uint64) {
		_, ok := s.val(stack, 0).(*value.PlainObject)
		stack[0] = boolean(ok)
	})
	s.add("strict-equals", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = boolean(value.StrictEquals(s.val(stack, 0), s.val(stack, 1)))
	})
	s.add("same-value", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = boolean(value.SameValue(s.val(stack, 0), s.val(stack, 1)))
	})
	s.add("truthy", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = boolean(value.Truthy(s.val(stack, 0)))
	})
	s.add("new-object", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, value.NewObject())
	})
	s.add("global-this", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, s.env.Global())
	})
	s.add("construct", func(ctx context.Context, _ api.Module, stack []uint64) {
		c := as[value.Constructor](s, stack, 0, "constructor")
		v, err := c.Construct(ctx, s.args(stack, 1))
		if err != nil {
			trap(err)
		}
		s.ret(stack, v)
	})
	s.add("has-property", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = boolean(s.object(stack, 0).Has(s.key(stack, 1)))
	})
	s.add("get-property", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, s.object(stack, 0).Get(s.key(stack, 1)))
	})
	s.add("set-property", func(_ context.Context, _ api.Module, stack []uint64) {
		s.object(stack, 0).Set(s.key(stack, 1), s.val(stack, 2))
	})
	s.add("delete-property", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = boolean(s.object(stack, 0).Delete(s.key(stack, 1)))
	})
	s.add("call-method", func(ctx context.Context, _ api.Module, stack []uint64) {
		o := s.object(stack, 0)
		name := s.key(stack, 1)
		fn, ok := o.Get(name).(value.Func)
		if !ok {
			trap(mismatch("function at ."+name, o.Get(name)))
		}
		v, err := fn.Call(ctx, o, s.args(stack, 2))
		if err != nil {
			trap(err)
		}
		s.ret(stack, v)
	})
	s.add("call", func(ctx context.Context, _ api.Module, stack []uint64) {
		fn := as[value.Func](s, stack, 0, "function")
		v, err := fn.Call(ctx, s.val(stack, 1), []any{s.val(stack, 2)})
		if err != nil {
			trap(err)
		}
		s.ret(stack, v)
	})
	s.add("to-string", func(_ context.Context, _ api.Module, stack []uint64) {
		v := s.val(stack, 0)
		if str, ok := hoststring.Coerce(v); ok {
			s.ret(stack, str)
			return
		}
		s.ret(stack, hoststring.FromGo(value.ToString(v)))
	})
	for n := 1; n <= 4; n++ {
		s.add("array-of-"+strconv.Itoa(n), func(_ context.Context, _ api.Module, stack []uint64) {
			items := make([]any, n)
			for i := range items {
				items[i] = s.val(stack, i)
			}
			s.ret(stack, value.NewArray(items...))
		})
	}
	s.add("drop-ref", func(_ context.Context, _ api.Module, stack []uint64) {
		s.env.Handles().Release(handle.Handle(u32(stack, 0)))
	})
	s.add("dup-ref", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, s.val(stack, 0))
	})
	s.add("null", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, value.Null)
	})
	s.add("from-number", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, f64(stack, 0))
	})
	s.add("to-number", func(_ context.Context, _ api.Module, stack []uint64) {
		f, _ := value.ToNumber(s.val(stack, 0))
		stack[0] = api.EncodeF64(f)
	})
	s.add("from-bool", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, flag(stack, 0))
	})
}

func (s *set) key(stack []uint64, i int) string {
	v := s.val(stack, i)
	k, ok := value.PropertyKey(v)
	if !ok {
		trap(mismatch("property key", v))
	}
	return k
}

// length answers the "length" of arrays, strings and views, and the numeric
// length property of any other object.
func length(v any) int {
	switch x := v.(type) {
	case *value.Array:
		return x.Len()
	case []any:
		return len(x)
	case view.View:
		return x.Len()
	case *view.DataView:
		return x.ByteLength()
	case view.Buffer:
		return x.ByteLength()
	case value.Object:
		if f, ok := value.ToNumber(x.Get("length")); ok && f >= 0 && !math.IsInf(f, 0) {
			return int(f)
		}
		return 0
	}
	if str, ok := hoststring.Coerce(v); ok {
		return str.Len()
	}
	trap(mismatch("value with a length", v))
	return 0
}

func indexGet(v any, i int) any {
	switch x := v.(type) {
	case *value.Array:
		return x.At(i)
	case []any:
		if i < len(x) {
			return x[i]
		}
		return nil
	case view.View:
		if i >= x.Len() {
			return nil
		}
		f, err := x.Float(i)
		if err != nil {
			trap(err)
		}
		return f
	case value.Object:
		return x.Get(strconv.Itoa(i))
	}
	if str, ok := hoststring.Coerce(v); ok {
		if i >= str.Len() {
			return nil
		}
		return hoststring.Substring(str, i, i+1)
	}
	trap(mismatch("indexable value", v))
	return nil
}

func indexSet(v any, i int, x any) {
	switch t := v.(type) {
	case *value.Array:
		t.SetAt(i, x)
	case view.View:
		f, _ := value.ToNumber(x)
		if err := t.SetFloat(i, f); err != nil {
			trap(err)
		}
	case value.Object:
		t.Set(strconv.Itoa(i), x)
	default:
		trap(mismatch("indexable object", v))
	}
}
