// Package hoststring implements host strings as immutable sequences of UTF-16 code
// units and the conversions between them and guest code-unit arrays.
//
// Two conversion paths exist. The native path is the small operation set bound to
// the "wasm:js-string" import namespace (CharCodeAt, Compare, Concat, Equals,
// FromCharCode, Length, Substring, Test). The bulk path copies whole strings to and
// from guest arrays in chunks of ChunkSize code units. Both preserve unpaired
// surrogates.
//
// Decoders turn UTF-8 bytes into host strings. Strictness is always explicit:
// Strict fails with a decode error on malformed input, Lenient substitutes U+FFFD.
package hoststring
