// Package async runs a single-threaded event loop per guest instance.
//
// Timers, intervals, microtasks and promise waits are scheduled as Ops. Each Op is
// a small state machine: Scheduled, then exactly one of Fired or Cancelled. A
// cancelled Op never invokes its callback, and cancelling after it fired is a
// no-op. Completions produced on other goroutines (timer expiry, network I/O,
// finalizers) are posted into the loop; only Run invokes guest code, so guest
// callbacks never run concurrently with each other.
//
// Microtasks drain completely before the next macrotask, matching the ordering
// guests compiled for browser hosts expect.
package async
