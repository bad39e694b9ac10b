// Package errors provides structured error types for the wasm-bridge library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The four failure families callers branch on are compile, link, range and decode;
// each has a predicate:
//
//	if errors.IsLinkError(err) { ... }
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseView, errors.KindRange).
//		Path("uint16", "subview").
//		Detail("offset %d not aligned", off).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Range(errors.PhaseView, off, n, size)
//	err := errors.Link("host feature not supported", nil)
//
// Cancellation of an async operation is a state, not an error, and has no Kind.
// All errors implement the standard error interface and support errors.Is/As.
package errors
