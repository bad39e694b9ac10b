// Package wasmbridge hosts a compiled WebAssembly guest and exposes a curated set of
// host capabilities to it through a fixed import table.
//
// The guest sees the host through numbered imports in the "bridge" namespace
// ("_400" is set-timeout, "_18" is property get, and so on) plus the reserved
// "wasm:js-string" namespace for the string builtins. Host values cross the boundary
// as i32 handles into a per-instance table; handle 0 is undefined.
//
// # Architecture Overview
//
//	wasmbridge/          Root package with the Memory interface
//	├── runtime/         Compile, instantiate, invoke main, drive the event loop
//	├── loader/          Compile bytes or a stream into an immutable Artifact
//	├── table/           Capability catalog and import table assembly
//	├── capability/      Host capability implementations over an Env
//	├── engine/          wazero runtime factory and shared compilation cache
//	├── async/           Per-instance event loop, timers, promises
//	├── callback/        Guest function wrappers and finalization registry
//	├── view/            Typed arrays, DataView and buffers over host or guest memory
//	├── hoststring/      UTF-16 host strings, chunked conversion, decoders
//	├── value/           Host value model and tag classifier
//	├── handle/          Handle table mapping i32 handles to host values
//	├── wasm/            Incremental binary section scanner
//	└── errors/          Structured error types
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, runtime.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Compile(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := mod.Instantiate(ctx, nil, runtime.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	if err := inst.InvokeMain(ctx, os.Args[1:]...); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. An Instance serializes entry into
// the guest; timers, fetches and finalizers complete on other goroutines and post
// into the instance's event loop, which only runs guest code on the goroutine that
// drives it.
//
// # Memory Model
//
// Views over guest linear memory are non-owning windows. Growing memory detaches
// every view derived before the growth; access through a detached view fails with
// a range error instead of reading stale data.
package wasmbridge
