// Package engine owns the wazero configuration shared by every instance.
//
// An Engine holds one compilation cache. Each instance asks it for a fresh
// wazero.Runtime, registers its own host modules there and instantiates the
// guest, so instances never share host state while compiled machine code
// is reused:
//
//	eng, _ := engine.New(&engine.Config{MemoryLimitPages: 1024})
//	r, _ := eng.NewRuntime(ctx)
//	defer r.Close(ctx)
//
// # Memory
//
// WazeroMemory adapts api.Memory to wasmbridge.Memory. Read returns a slice
// that aliases guest memory; it is only valid until the memory grows.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Runtimes are owned by one instance.
//
// # Experimental Features
//
// Threads/Atomics: Enable via Config.EnableThreads. Guests declaring
// shared memory fail to compile without it.
package engine
