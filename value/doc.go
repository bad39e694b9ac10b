// Package value defines the host value model seen by guests and the tag
// classifier that guests use to branch on a value's runtime type.
//
// Go nil is the undefined value. Null is a distinct sentinel. Every Go numeric
// type is a number; strings are hoststring.String (Go strings are accepted);
// arrays are *Array; objects implement Object; callables implement Func.
//
// Classify maps any host value to a stable integer Tag. The order of checks is
// fixed and first match wins; the tag numbers are part of the guest contract.
package value
