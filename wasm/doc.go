// Package wasm scans the WebAssembly binary format.
//
// The scanner reads a module one section at a time from any io.Reader,
// validating the header and the canonical section order as bytes arrive.
// It records the parts the host side needs before compilation: imports,
// exports, memory limits (including the shared flag) and custom section
// names. Function bodies are framed but not decoded; compilation is left
// to the engine.
//
//	sum, err := wasm.Scan(resp.Body)
//	if errors.Is(err, wasm.ErrInvalidMagic) { ... }
//	for _, imp := range sum.Imports { ... }
//
// LEB128 helpers are exported for code that emits modules.
package wasm
