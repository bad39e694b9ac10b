// Package runtime links compiled guest modules against the bridge import
// table and runs them.
//
// # Quick Start
//
//	ctx := context.Background()
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
//	inst, err := mod.Instantiate(ctx, nil, runtime.Options{Stdout: os.Stdout})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	// Runs $invokeMain, then the event loop until nothing is pending.
//	if err := inst.InvokeMain(ctx, os.Args[1:]...); err != nil {
//	    log.Fatal(err)
//	}
//
// # Loading Modules
//
// Modules come from fully buffered bytes or from a stream:
//
//	Compile(bytes)               - validate and inspect a buffered module
//	CompileStreaming(resp)       - read an *http.Response (application/wasm)
//	CompileStreaming(reader)     - read any io.Reader
//
// Both paths produce the same loader.Artifact. Compilation rejects modules
// whose bridge imports or required exports do not match the import table.
//
// # Additional Imports
//
// Imports beyond the built-in table are registered on an Imports set and
// passed to Instantiate:
//
//	imports := runtime.NewImports()
//	imports.RegisterFunc("env", "delay", func() float64 { return 50 })
//
//	// Or implement the Host interface for a full namespace
//	imports.RegisterHost(myHost)
//
// Collisions with built-in entries fail instantiation unless Options
// selects table.MergeOverride. Entries in the string polyfill range also
// need Options.AllowReserved.
//
// # Linking
//
// Instantiate fails with a link error when the module needs a feature the
// host disabled, imports the deferred or dynamic module loader without the
// matching Options callback, or declares any import the table cannot
// satisfy. A failed instantiation closes everything it created.
//
// # Re-entrancy
//
// The guest may call a host import that calls back into a wrapped guest
// function, which may call the host again. Nested calls carry the
// instance in their context and run on their own exported function per
// depth. Calls from other goroutines wait for the running top-level call.
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. You can call
// Module.Instantiate() from multiple goroutines concurrently.
//
// Instance is NOT thread-safe beyond the serialisation above. Async host
// work never touches the guest directly; it posts to the instance's event
// loop, which runs inside InvokeMain or Run.
//
// # Resource Management
//
// Always close instances when done. Closing cancels pending timers and
// fetches, withdraws finalizers and releases guest memory.
package runtime
