// Package table assembles the host import table a guest module links against.
//
// The catalog is declarative: every binding names a numeric key, the
// capability implementing it and a WIT function type. Keys are partitioned by
// capability family and imported from the "bridge" namespace as "_<key>"; the
// builtin string polyfill owns keys 9000-9099 and is imported from
// "wasm:js-string" by builtin name. Assemble merges the catalog with caller
// supplied imports under a MergePolicy, Link resolves a module's imports
// without partial success, and Instantiate builds one host module per
// namespace.
package table
