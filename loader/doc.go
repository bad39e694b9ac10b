// Package loader turns guest module bytes into an immutable Artifact.
//
// Bytes arrive whole (Compile) or as a stream (CompileStreaming). The stream
// path checks the header and each section's framing as bytes arrive, so a
// non-module fails before the body is read to the end. Either way the module
// is then validated by wazero and checked against the bridge catalog: every
// bridge import must name a known key with the catalog signature, and the
// exports the imported capabilities call back into must be present.
//
// Artifacts are shared read-only by every instance created from them.
package loader
