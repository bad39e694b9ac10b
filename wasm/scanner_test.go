package wasm_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/wippyai/wasm-bridge/internal/wasmtest"
	"github.com/wippyai/wasm-bridge/wasm"
)

func sampleModule() []byte {
	m := wasmtest.New()
	m.ImportFunc("bridge", "_400", wasmtest.Types(wasmtest.F64, wasmtest.I32), wasmtest.Types(wasmtest.I32))
	m.ImportMemory("env", "mem", 1, 4, true)
	main := m.Func(nil, nil, wasmtest.NewCode())
	m.ExportFunc("$invokeMain", main)
	m.Custom("name", []byte{0})
	return m.Bytes()
}

func TestScan(t *testing.T) {
	sum, err := wasm.Scan(bytes.NewReader(sampleModule()))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(sum.Imports) != 2 {
		t.Fatalf("imports = %d, want 2", len(sum.Imports))
	}
	fn := sum.Imports[0]
	if fn.Module != "bridge" || fn.Name != "_400" || fn.Kind != wasm.KindFunc {
		t.Errorf("func import = %+v", fn)
	}
	mem := sum.Imports[1]
	if mem.Kind != wasm.KindMemory || mem.Memory == nil {
		t.Fatalf("memory import = %+v", mem)
	}
	if !mem.Memory.Shared || mem.Memory.Min != 1 || mem.Memory.Max == nil || *mem.Memory.Max != 4 {
		t.Errorf("limits = %+v", *mem.Memory)
	}
	if !sum.SharedMemory() {
		t.Error("SharedMemory should be true")
	}
	if !sum.HasExport("$invokeMain", wasm.KindFunc) {
		t.Error("missing $invokeMain export")
	}
	if sum.HasExport("$invokeMain", wasm.KindMemory) {
		t.Error("export kind must match")
	}
	if len(sum.Custom) != 1 || sum.Custom[0] != "name" {
		t.Errorf("custom = %v", sum.Custom)
	}
	if !bytes.Equal(sum.Bytes, sampleModule()) {
		t.Error("summary bytes differ from input")
	}
}

// failAfter serves data once and fails every later read.
type failAfter struct {
	data  []byte
	reads int
}

func (r *failAfter) Read(p []byte) (int, error) {
	r.reads++
	if r.reads > 1 {
		return 0, errors.New("read past first chunk")
	}
	return copy(p, r.data), nil
}

func TestScan_BadMagicFailsEarly(t *testing.T) {
	src := &failAfter{data: []byte{'b', 'a', 'd', '!', 1, 0, 0, 0}}
	_, err := wasm.Scan(src)
	if !errors.Is(err, wasm.ErrInvalidMagic) {
		t.Fatalf("err = %v, want ErrInvalidMagic", err)
	}
	if src.reads != 1 {
		t.Errorf("reads = %d, want 1", src.reads)
	}
}

func TestScan_Errors(t *testing.T) {
	good := sampleModule()

	badVersion := append([]byte(nil), good...)
	badVersion[4] = 2

	// type section (1) after import section (2) is out of order
	outOfOrder := append(append([]byte(nil), good[:8]...), 2, 1, 0, 1, 1, 0)

	truncated := good[:len(good)-3]

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, wasm.ErrInvalidMagic},
		{"short header", good[:5], wasm.ErrInvalidMagic},
		{"version", badVersion, wasm.ErrInvalidVersion},
		{"order", outOfOrder, wasm.ErrSectionOrder},
		{"truncated", truncated, io.ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.Scan(bytes.NewReader(tt.data))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestScan_SizeMismatch(t *testing.T) {
	// export section declaring one byte more than its entries use
	data := append([]byte(nil), sampleModule()[:8]...)
	data = append(data, wasm.SectionExport, 3, 0, 0, 0)
	_, err := wasm.Scan(bytes.NewReader(data))
	if !errors.Is(err, wasm.ErrSectionSize) {
		t.Fatalf("err = %v, want ErrSectionSize", err)
	}
}

func TestScanLimit(t *testing.T) {
	data := sampleModule()
	if _, err := wasm.ScanLimit(bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("exact limit: %v", err)
	}
	if _, err := wasm.ScanLimit(bytes.NewReader(data), int64(len(data)-1)); !errors.Is(err, wasm.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestScanner_Next(t *testing.T) {
	s := wasm.NewScanner(bytes.NewReader(sampleModule()))
	var ids []byte
	for {
		sec, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		ids = append(ids, sec.ID)
	}
	want := []byte{wasm.SectionType, wasm.SectionImport, wasm.SectionFunction, wasm.SectionExport, wasm.SectionCode, wasm.SectionCustom}
	if !bytes.Equal(ids, want) {
		t.Errorf("sections = %v, want %v", ids, want)
	}
}
