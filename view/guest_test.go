package view

import (
	"testing"

	"github.com/wippyai/wasm-bridge/errors"
)

func TestReadWriteGuest(t *testing.T) {
	mem := &fakeMemory{data: make([]byte, 32)}
	if err := WriteGuest(mem, 4, []int16{-1, 2, -3}); err != nil {
		t.Fatal(err)
	}
	got, err := ReadGuest[int16](mem, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != -1 || got[1] != 2 || got[2] != -3 {
		t.Fatalf("ReadGuest = %v", got)
	}
	if mem.data[4] != 0xff || mem.data[5] != 0xff || mem.data[6] != 2 {
		t.Fatalf("not little-endian: % x", mem.data[4:10])
	}

	if _, err := ReadGuest[float64](mem, 30, 1); !errors.IsRangeError(err) {
		t.Fatalf("read past end: %v", err)
	}
	if err := WriteGuest(mem, 31, []uint16{1}); !errors.IsRangeError(err) {
		t.Fatalf("write past end: %v", err)
	}
}

func TestCopyGuestViews(t *testing.T) {
	mem := &fakeMemory{data: make([]byte, 16)}
	src := Of[uint32](7, 8, 9)
	if err := CopyToGuest(mem, 4, src, 1, 2); err != nil {
		t.Fatal(err)
	}
	dst := Alloc[uint32](4)
	if err := CopyFromGuest(dst, 2, mem, 4, 2); err != nil {
		t.Fatal(err)
	}
	vals, _ := dst.Values()
	if vals[0] != 0 || vals[1] != 0 || vals[2] != 8 || vals[3] != 9 {
		t.Fatalf("dst = %v", vals)
	}

	if err := CopyFromGuest(dst, 3, mem, 0, 2); !errors.IsRangeError(err) {
		t.Fatalf("dst overflow: %v", err)
	}
	if err := CopyToGuest(mem, 12, src, 0, 2); !errors.IsRangeError(err) {
		t.Fatalf("guest overflow: %v", err)
	}
}
