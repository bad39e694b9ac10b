// Package wasmtest assembles small core modules for tests.
package wasmtest

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/wippyai/wasm-bridge/wasm"
)

// Shorthand value types.
var (
	I32 = wasm.ValI32
	I64 = wasm.ValI64
	F32 = wasm.ValF32
	F64 = wasm.ValF64
)

// Types builds a value type list.
func Types(ts ...wasm.ValType) []wasm.ValType { return ts }

type funcType struct {
	params  []wasm.ValType
	results []wasm.ValType
}

func (t funcType) equal(o funcType) bool {
	return bytes.Equal(valBytes(t.params), valBytes(o.params)) &&
		bytes.Equal(valBytes(t.results), valBytes(o.results))
}

func valBytes(ts []wasm.ValType) []byte {
	b := make([]byte, len(ts))
	for i, t := range ts {
		b[i] = byte(t)
	}
	return b
}

type importEntry struct {
	module, name string
	kind         byte
	typeIdx      uint32
	limits       memLimits
}

type memLimits struct {
	min, max uint32
	hasMax   bool
	shared   bool
}

type funcEntry struct {
	locals  []wasm.ValType
	body    []byte
	typeIdx uint32
}

type exportEntry struct {
	name string
	kind byte
	idx  uint32
}

type customEntry struct {
	name string
	data []byte
}

// Module is a module under construction. Imports must be added before
// functions so function indices stay stable.
type Module struct {
	memory   *memLimits
	types    []funcType
	imports  []importEntry
	funcs    []funcEntry
	exports  []exportEntry
	customs  []customEntry
	imported uint32
}

// New returns an empty module.
func New() *Module { return &Module{} }

func (m *Module) typeIndex(params, results []wasm.ValType) uint32 {
	ft := funcType{params: params, results: results}
	for i, t := range m.types {
		if t.equal(ft) {
			return uint32(i)
		}
	}
	m.types = append(m.types, ft)
	return uint32(len(m.types) - 1)
}

// ImportFunc adds a function import and returns its function index.
func (m *Module) ImportFunc(module, name string, params, results []wasm.ValType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must precede functions")
	}
	m.imports = append(m.imports, importEntry{
		module:  module,
		name:    name,
		kind:    wasm.KindFunc,
		typeIdx: m.typeIndex(params, results),
	})
	m.imported++
	return m.imported - 1
}

// ImportMemory adds a memory import.
func (m *Module) ImportMemory(module, name string, min, max uint32, shared bool) *Module {
	m.imports = append(m.imports, importEntry{
		module: module,
		name:   name,
		kind:   wasm.KindMemory,
		limits: memLimits{min: min, max: max, hasMax: max > 0, shared: shared},
	})
	return m
}

// Memory defines the module's memory with min pages and no maximum.
func (m *Module) Memory(min uint32) *Module {
	m.memory = &memLimits{min: min}
	return m
}

// SharedMemory defines a shared memory; shared memories require a maximum.
func (m *Module) SharedMemory(min, max uint32) *Module {
	m.memory = &memLimits{min: min, max: max, hasMax: true, shared: true}
	return m
}

// Func defines a function and returns its index.
func (m *Module) Func(params, results []wasm.ValType, code *Code, locals ...wasm.ValType) uint32 {
	var body []byte
	if code != nil {
		body = code.Bytes()
	}
	m.funcs = append(m.funcs, funcEntry{
		typeIdx: m.typeIndex(params, results),
		locals:  locals,
		body:    body,
	})
	return m.imported + uint32(len(m.funcs)) - 1
}

// Export exports an item by kind and index.
func (m *Module) Export(name string, kind byte, idx uint32) *Module {
	m.exports = append(m.exports, exportEntry{name: name, kind: kind, idx: idx})
	return m
}

// ExportFunc exports function idx under name.
func (m *Module) ExportFunc(name string, idx uint32) *Module {
	return m.Export(name, wasm.KindFunc, idx)
}

// ExportMemory exports memory 0 as name.
func (m *Module) ExportMemory(name string) *Module {
	return m.Export(name, wasm.KindMemory, 0)
}

// Custom appends a custom section.
func (m *Module) Custom(name string, data []byte) *Module {
	m.customs = append(m.customs, customEntry{name: name, data: data})
	return m
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, wasm.Magic)
	binary.Write(&out, binary.LittleEndian, wasm.Version)

	if len(m.types) > 0 {
		var s bytes.Buffer
		wasm.WriteLEB128u(&s, uint32(len(m.types)))
		for _, t := range m.types {
			s.WriteByte(wasm.FuncTypeByte)
			writeVals(&s, t.params)
			writeVals(&s, t.results)
		}
		writeSection(&out, wasm.SectionType, s.Bytes())
	}

	if len(m.imports) > 0 {
		var s bytes.Buffer
		wasm.WriteLEB128u(&s, uint32(len(m.imports)))
		for _, imp := range m.imports {
			writeName(&s, imp.module)
			writeName(&s, imp.name)
			s.WriteByte(imp.kind)
			switch imp.kind {
			case wasm.KindFunc:
				wasm.WriteLEB128u(&s, imp.typeIdx)
			case wasm.KindMemory:
				writeLimits(&s, imp.limits)
			}
		}
		writeSection(&out, wasm.SectionImport, s.Bytes())
	}

	if len(m.funcs) > 0 {
		var s bytes.Buffer
		wasm.WriteLEB128u(&s, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			wasm.WriteLEB128u(&s, f.typeIdx)
		}
		writeSection(&out, wasm.SectionFunction, s.Bytes())
	}

	if m.memory != nil {
		var s bytes.Buffer
		wasm.WriteLEB128u(&s, 1)
		writeLimits(&s, *m.memory)
		writeSection(&out, wasm.SectionMemory, s.Bytes())
	}

	if len(m.exports) > 0 {
		var s bytes.Buffer
		wasm.WriteLEB128u(&s, uint32(len(m.exports)))
		for _, e := range m.exports {
			writeName(&s, e.name)
			s.WriteByte(e.kind)
			wasm.WriteLEB128u(&s, e.idx)
		}
		writeSection(&out, wasm.SectionExport, s.Bytes())
	}

	if len(m.funcs) > 0 {
		var s bytes.Buffer
		wasm.WriteLEB128u(&s, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			var body bytes.Buffer
			writeLocals(&body, f.locals)
			body.Write(f.body)
			body.WriteByte(opEnd)
			wasm.WriteLEB128u(&s, uint32(body.Len()))
			s.Write(body.Bytes())
		}
		writeSection(&out, wasm.SectionCode, s.Bytes())
	}

	for _, c := range m.customs {
		var s bytes.Buffer
		writeName(&s, c.name)
		s.Write(c.data)
		writeSection(&out, wasm.SectionCustom, s.Bytes())
	}

	return out.Bytes()
}

func writeSection(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	wasm.WriteLEB128u(out, uint32(len(payload)))
	out.Write(payload)
}

func writeName(w *bytes.Buffer, s string) {
	wasm.WriteLEB128u(w, uint32(len(s)))
	w.WriteString(s)
}

func writeVals(w *bytes.Buffer, ts []wasm.ValType) {
	wasm.WriteLEB128u(w, uint32(len(ts)))
	w.Write(valBytes(ts))
}

func writeLimits(w *bytes.Buffer, l memLimits) {
	var flags byte
	if l.hasMax {
		flags |= wasm.LimitsHasMax
	}
	if l.shared {
		flags |= wasm.LimitsShared
	}
	w.WriteByte(flags)
	wasm.WriteLEB128u(w, l.min)
	if l.hasMax {
		wasm.WriteLEB128u(w, l.max)
	}
}

func writeLocals(w *bytes.Buffer, locals []wasm.ValType) {
	type group struct {
		t wasm.ValType
		n uint32
	}
	var groups []group
	for _, t := range locals {
		if len(groups) > 0 && groups[len(groups)-1].t == t {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{t: t, n: 1})
	}
	wasm.WriteLEB128u(w, uint32(len(groups)))
	for _, g := range groups {
		wasm.WriteLEB128u(w, g.n)
		w.WriteByte(byte(g.t))
	}
}

const (
	opIf         = 0x04
	opElse       = 0x05
	opEnd        = 0x0B
	opReturn     = 0x0F
	opCall       = 0x10
	opDrop       = 0x1A
	opLocalGet   = 0x20
	opLocalSet   = 0x21
	opI32Load    = 0x28
	opI32Store   = 0x36
	opMemorySize = 0x3F
	opMemoryGrow = 0x40
	opI32Const   = 0x41
	opI64Const   = 0x42
	opF64Const   = 0x44
	opI32Eqz     = 0x45
	opI32Eq      = 0x46
	opI32Add     = 0x6A
	opI32Sub     = 0x6B
	blockEmpty   = 0x40
)

// Code is a function body under construction. The closing end is added
// by Module.Func.
type Code struct {
	buf bytes.Buffer
}

// NewCode returns an empty body.
func NewCode() *Code { return &Code{} }

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte { return c.buf.Bytes() }

func (c *Code) op(b byte) *Code {
	c.buf.WriteByte(b)
	return c
}

func (c *Code) I32Const(v int32) *Code {
	c.buf.WriteByte(opI32Const)
	wasm.WriteLEB128s(&c.buf, v)
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.buf.WriteByte(opI64Const)
	wasm.WriteLEB128s64(&c.buf, v)
	return c
}

func (c *Code) F64Const(v float64) *Code {
	c.buf.WriteByte(opF64Const)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	c.buf.Write(b[:])
	return c
}

func (c *Code) LocalGet(i uint32) *Code {
	c.buf.WriteByte(opLocalGet)
	wasm.WriteLEB128u(&c.buf, i)
	return c
}

func (c *Code) LocalSet(i uint32) *Code {
	c.buf.WriteByte(opLocalSet)
	wasm.WriteLEB128u(&c.buf, i)
	return c
}

func (c *Code) Call(fn uint32) *Code {
	c.buf.WriteByte(opCall)
	wasm.WriteLEB128u(&c.buf, fn)
	return c
}

// I32Load loads from memory 0 at the popped address plus offset.
func (c *Code) I32Load(offset uint32) *Code {
	c.buf.WriteByte(opI32Load)
	wasm.WriteLEB128u(&c.buf, 2)
	wasm.WriteLEB128u(&c.buf, offset)
	return c
}

// I32Store stores to memory 0 at the popped address plus offset.
func (c *Code) I32Store(offset uint32) *Code {
	c.buf.WriteByte(opI32Store)
	wasm.WriteLEB128u(&c.buf, 2)
	wasm.WriteLEB128u(&c.buf, offset)
	return c
}

func (c *Code) MemorySize() *Code { c.op(opMemorySize); return c.op(0) }
func (c *Code) MemoryGrow() *Code { c.op(opMemoryGrow); return c.op(0) }
func (c *Code) If() *Code         { c.op(opIf); return c.op(blockEmpty) }
func (c *Code) Else() *Code       { return c.op(opElse) }
func (c *Code) End() *Code        { return c.op(opEnd) }
func (c *Code) Return() *Code     { return c.op(opReturn) }
func (c *Code) Drop() *Code       { return c.op(opDrop) }
func (c *Code) I32Eqz() *Code     { return c.op(opI32Eqz) }
func (c *Code) I32Eq() *Code      { return c.op(opI32Eq) }
func (c *Code) I32Add() *Code     { return c.op(opI32Add) }
func (c *Code) I32Sub() *Code     { return c.op(opI32Sub) }
