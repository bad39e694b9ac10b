// Package callback wraps guest functions as host callables and tracks their
// reclamation.
//
// A Wrapper carries the guest function reference, the trampoline key used to
// call back into the guest, and a process-unique id. Wrappers are recognised by
// an unexported marker, so no host function can pass for one.
//
// A Registry fires a notification exactly once after a registered target
// becomes unreachable, unless the registration was withdrawn first. It is
// built on runtime.AddCleanup and never keeps its targets alive.
package callback
