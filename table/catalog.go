package table

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-bridge/view"
)

const (
	// Namespace is the module name of the base import table.
	Namespace = "bridge"
	// PolyfillNamespace carries the builtin string operations.
	PolyfillNamespace = "wasm:js-string"
	// ConstNamespace holds string constants; the import name is the string itself.
	ConstNamespace = "S"

	// ReservedMin and ReservedMax bound the polyfill keys.
	ReservedMin uint32 = 9000
	ReservedMax uint32 = 9099
)

// Need lists guest exports or state a binding depends on.
type Need uint8

const (
	NeedMemory     Need = 1 << iota // exported "memory"
	NeedCallback                    // "$invokeCallback" completion entry
	NeedTrampoline                  // "_<key>" call trampoline
	NeedI16Get                      // "$wasmI16ArrayGet"
	NeedI16Set                      // "$wasmI16ArraySet"
)

var needNames = []string{"memory", "callback", "trampoline", "i16-get", "i16-set"}

func (n Need) String() string {
	var parts []string
	for i, name := range needNames {
		if n&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Partition is a contiguous key range owned by one capability family.
type Partition struct {
	Name     string
	Min, Max uint32
}

// Partitions is the key space layout. Keys outside every partition are invalid.
var Partitions = []Partition{
	{"value", 1, 99},
	{"view", 100, 299},
	{"string", 300, 399},
	{"async", 400, 499},
	{"callback", 500, 599},
	{"module", 600, 699},
	{"polyfill", ReservedMin, ReservedMax},
}

// PartitionOf returns the partition containing key.
func PartitionOf(key uint32) (Partition, bool) {
	for _, p := range Partitions {
		if key >= p.Min && key <= p.Max {
			return p, true
		}
	}
	return Partition{}, false
}

// Binding declares one catalog entry.
type Binding struct {
	// Name is the capability implementing the entry.
	Name string
	// Import overrides the import name; polyfill entries use their builtin name.
	Import string
	Sig    string
	Key    uint32
	Needs  Need
	// Arity is the argument count of wrap bindings.
	Arity int
}

// Reserved reports whether b lives in the polyfill range.
func (b Binding) Reserved() bool {
	return b.Key >= ReservedMin && b.Key <= ReservedMax
}

// Namespace returns the import module name of b.
func (b Binding) Namespace() string {
	if b.Reserved() {
		return PolyfillNamespace
	}
	return Namespace
}

// ImportName returns the name the guest imports b under.
func (b Binding) ImportName() string {
	if b.Import != "" {
		return b.Import
	}
	return ImportName(b.Key)
}

// ImportName formats a base key as an import name.
func ImportName(key uint32) string {
	return "_" + strconv.FormatUint(uint64(key), 10)
}

// ParseImportName is the inverse of ImportName.
func ParseImportName(name string) (uint32, bool) {
	if len(name) < 2 || name[0] != '_' {
		return 0, false
	}
	for _, c := range name[1:] {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	if len(name) > 2 && name[1] == '0' {
		return 0, false
	}
	n, err := strconv.ParseUint(name[1:], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// MaxWrapArity is the largest wrapped function arity with its own trampoline.
const MaxWrapArity = 5

// WrapKey returns the wrap binding key for arity n.
func WrapKey(n int) uint32 { return 500 + uint32(n) }

const (
	KeyLoadDeferred uint32 = 600
	KeyLoadDynamic  uint32 = 601
)

var valueBindings = []Binding{
	{Key: 1, Name: "type-tag", Sig: "func(v: u32) -> u32"},
	{Key: 2, Name: "object-keys", Sig: "func(o: u32) -> u32"},
	{Key: 3, Name: "new-array", Sig: "func(n: u32) -> u32"},
	{Key: 4, Name: "length", Sig: "func(v: u32) -> u32"},
	{Key: 5, Name: "index-get", Sig: "func(a: u32, i: u32) -> u32"},
	{Key: 6, Name: "index-set", Sig: "func(a: u32, i: u32, v: u32)"},
	{Key: 7, Name: "array-pop", Sig: "func(a: u32) -> u32"},
	{Key: 8, Name: "array-push", Sig: "func(a: u32, v: u32) -> u32"},
	{Key: 9, Name: "is-undefined", Sig: "func(v: u32) -> bool"},
	{Key: 10, Name: "is-plain-object", Sig: "func(v: u32) -> bool"},
	{Key: 11, Name: "strict-equals", Sig: "func(a: u32, b: u32) -> bool"},
	{Key: 12, Name: "same-value", Sig: "func(a: u32, b: u32) -> bool"},
	{Key: 13, Name: "truthy", Sig: "func(v: u32) -> bool"},
	{Key: 14, Name: "new-object", Sig: "func() -> u32"},
	{Key: 15, Name: "global-this", Sig: "func() -> u32"},
	{Key: 16, Name: "construct", Sig: "func(c: u32, args: u32) -> u32"},
	{Key: 17, Name: "has-property", Sig: "func(o: u32, key: u32) -> bool"},
	{Key: 18, Name: "get-property", Sig: "func(o: u32, key: u32) -> u32"},
	{Key: 19, Name: "set-property", Sig: "func(o: u32, key: u32, v: u32)"},
	{Key: 20, Name: "delete-property", Sig: "func(o: u32, key: u32) -> bool"},
	{Key: 21, Name: "call-method", Sig: "func(o: u32, name: u32, args: u32) -> u32"},
	{Key: 22, Name: "call", Sig: "func(f: u32, this: u32, arg: u32) -> u32"},
	{Key: 23, Name: "to-string", Sig: "func(v: u32) -> u32"},
	{Key: 24, Name: "array-of-1", Sig: "func(a: u32) -> u32"},
	{Key: 25, Name: "array-of-2", Sig: "func(a: u32, b: u32) -> u32"},
	{Key: 26, Name: "array-of-3", Sig: "func(a: u32, b: u32, c: u32) -> u32"},
	{Key: 27, Name: "array-of-4", Sig: "func(a: u32, b: u32, c: u32, d: u32) -> u32"},
	{Key: 28, Name: "drop-ref", Sig: "func(v: u32)"},
	{Key: 29, Name: "dup-ref", Sig: "func(v: u32) -> u32"},
	{Key: 30, Name: "null", Sig: "func() -> u32"},
	{Key: 31, Name: "from-number", Sig: "func(n: f64) -> u32"},
	{Key: 32, Name: "to-number", Sig: "func(v: u32) -> f64"},
	{Key: 33, Name: "from-bool", Sig: "func(b: bool) -> u32"},
	{Key: 34, Name: "is-null", Sig: "func(v: u32) -> bool"},
}

var viewBindings = []Binding{
	{Key: 120, Name: "typed-get", Sig: "func(v: u32, i: u32) -> f64"},
	{Key: 121, Name: "typed-set", Sig: "func(v: u32, i: u32, x: f64)"},
	{Key: 122, Name: "typed-lane", Sig: "func(v: u32) -> s32"},
	{Key: 123, Name: "typed-subview", Sig: "func(v: u32, start: u32, len: u32) -> u32"},
	{Key: 124, Name: "typed-set-from", Sig: "func(dst: u32, src: u32, offset: u32)"},
	{Key: 125, Name: "typed-copy", Sig: "func(dst: u32, dst-index: u32, src: u32, src-index: u32, n: u32)"},
	{Key: 160, Name: "copy-from-guest", Sig: "func(dst: u32, dst-index: u32, ptr: u32, n: u32)", Needs: NeedMemory},
	{Key: 161, Name: "copy-to-guest", Sig: "func(ptr: u32, src: u32, src-index: u32, n: u32)", Needs: NeedMemory},
	{Key: 200, Name: "new-array-buffer", Sig: "func(n: u32) -> u32"},
	{Key: 201, Name: "new-shared-array-buffer", Sig: "func(n: u32) -> u32"},
	{Key: 202, Name: "new-dataview", Sig: "func(buf: u32, offset: u32, len: u32) -> u32"},
	{Key: 203, Name: "buffer-kind", Sig: "func(v: u32) -> u32"},
	{Key: 204, Name: "byte-length", Sig: "func(v: u32) -> u32"},
	{Key: 205, Name: "byte-offset", Sig: "func(v: u32) -> u32"},
	{Key: 206, Name: "view-buffer", Sig: "func(v: u32) -> u32"},
	{Key: 207, Name: "memory-buffer", Sig: "func() -> u32", Needs: NeedMemory},
	{Key: 208, Name: "slice-copy", Sig: "func(ptr: u32, len: u32) -> u32", Needs: NeedMemory},
	{Key: 209, Name: "buffer-slice", Sig: "func(buf: u32, begin: u32, end: u32) -> u32"},
}

// laneBindings generates the per-lane constructors and DataView accessors:
// 100+L new array, 110+L view over a buffer, 140+L DataView get, 150+L set.
func laneBindings() []Binding {
	var out []Binding
	for _, l := range view.Lanes {
		k := uint32(l)
		out = append(out,
			Binding{Key: 100 + k, Name: "new-" + l.String() + "-array", Sig: "func(len: u32) -> u32"},
			Binding{Key: 110 + k, Name: l.String() + "-array-view", Sig: "func(buf: u32, offset: u32, len: u32) -> u32"},
			Binding{Key: 140 + k, Name: "dataview-get-" + l.String(), Sig: "func(d: u32, offset: u32, little: bool) -> f64"},
			Binding{Key: 150 + k, Name: "dataview-set-" + l.String(), Sig: "func(d: u32, offset: u32, x: f64, little: bool)"},
		)
	}
	return out
}

var stringBindings = []Binding{
	{Key: 300, Name: "string-from-code-units", Sig: "func(arr: u32, start: u32, end: u32) -> u32", Needs: NeedI16Get},
	{Key: 301, Name: "string-into-code-units", Sig: "func(s: u32, arr: u32, start: u32) -> u32", Needs: NeedI16Set},
	{Key: 302, Name: "string-from-guest", Sig: "func(ptr: u32, len: u32) -> u32", Needs: NeedMemory},
	{Key: 303, Name: "string-into-guest", Sig: "func(s: u32, ptr: u32) -> u32", Needs: NeedMemory},
	{Key: 304, Name: "text-decoder-new", Sig: "func(fatal: bool) -> u32"},
	{Key: 305, Name: "text-decode", Sig: "func(dec: u32, bytes: u32) -> u32"},
	{Key: 306, Name: "text-decode-guest", Sig: "func(dec: u32, ptr: u32, len: u32) -> u32", Needs: NeedMemory},
	{Key: 307, Name: "text-encode", Sig: "func(s: u32) -> u32"},
	{Key: 308, Name: "parse-number", Sig: "func(s: u32) -> f64"},
	{Key: 309, Name: "string-from-utf8-guest", Sig: "func(ptr: u32, len: u32) -> u32", Needs: NeedMemory},
}

var asyncBindings = []Binding{
	{Key: 400, Name: "set-timeout", Sig: "func(ms: f64, token: u32) -> u32", Needs: NeedCallback},
	{Key: 401, Name: "clear-timeout", Sig: "func(op: u32)"},
	{Key: 402, Name: "set-interval", Sig: "func(ms: f64, token: u32) -> u32", Needs: NeedCallback},
	{Key: 403, Name: "clear-interval", Sig: "func(op: u32)"},
	{Key: 404, Name: "queue-microtask", Sig: "func(token: u32)", Needs: NeedCallback},
	{Key: 405, Name: "promise-then", Sig: "func(p: u32, ok: u32, fail: u32) -> u32"},
	{Key: 406, Name: "promise-await", Sig: "func(p: u32, token: u32) -> u32", Needs: NeedCallback},
	{Key: 407, Name: "promise-new", Sig: "func() -> u32"},
	{Key: 408, Name: "promise-resolve", Sig: "func(p: u32, v: u32) -> bool"},
	{Key: 409, Name: "promise-reject", Sig: "func(p: u32, v: u32) -> bool"},
	{Key: 410, Name: "promise-resolved", Sig: "func(v: u32) -> u32"},
	{Key: 411, Name: "promise-rejected", Sig: "func(v: u32) -> u32"},
	{Key: 420, Name: "fetch", Sig: "func(url: u32, init: u32) -> u32"},
	{Key: 421, Name: "fetch-init", Sig: "func(method: u32, headers: u32, body: u32, credentials: u32, redirect: u32, signal: u32) -> u32"},
	{Key: 422, Name: "abort-controller-new", Sig: "func() -> u32"},
	{Key: 423, Name: "abort-controller-signal", Sig: "func(c: u32) -> u32"},
	{Key: 424, Name: "abort", Sig: "func(c: u32)"},
	{Key: 425, Name: "body-get-reader", Sig: "func(resp: u32) -> u32"},
	{Key: 426, Name: "reader-read", Sig: "func(r: u32) -> u32"},
	{Key: 427, Name: "reader-cancel", Sig: "func(r: u32)"},
	{Key: 428, Name: "response-array-buffer", Sig: "func(resp: u32) -> u32"},
	{Key: 429, Name: "headers-get", Sig: "func(resp: u32, name: u32) -> u32"},
	{Key: 430, Name: "response-status", Sig: "func(resp: u32) -> u32"},
}

// wrapBindings generates wrap-0 through wrap-5. Each needs the guest
// trampoline "_<key>" taking (ref, argc) plus arity argument handles.
func wrapBindings() []Binding {
	out := make([]Binding, 0, MaxWrapArity+1)
	for n := 0; n <= MaxWrapArity; n++ {
		out = append(out, Binding{
			Key:   WrapKey(n),
			Name:  fmt.Sprintf("wrap-%d", n),
			Sig:   "func(f: u32) -> u32",
			Needs: NeedTrampoline,
			Arity: n,
		})
	}
	return out
}

var callbackBindings = []Binding{
	{Key: 510, Name: "is-wrapped", Sig: "func(v: u32) -> bool"},
	{Key: 511, Name: "unwrap", Sig: "func(v: u32) -> u32"},
	{Key: 512, Name: "finalization-registry-new", Sig: "func(cb: u32) -> u32"},
	{Key: 513, Name: "finalization-registry-register", Sig: "func(r: u32, target: u32, held: u32, token: u32)"},
	{Key: 514, Name: "finalization-registry-unregister", Sig: "func(r: u32, token: u32) -> bool"},
	{Key: 515, Name: "wrapper-deregister", Sig: "func(w: u32) -> bool"},
}

var moduleBindings = []Binding{
	{Key: KeyLoadDeferred, Name: "load-deferred", Sig: "func(name: u32) -> u32"},
	{Key: KeyLoadDynamic, Name: "load-dynamic", Sig: "func(wasm: u32, js: u32) -> u32"},
	{Key: 610, Name: "print", Sig: "func(s: u32)"},
	{Key: 611, Name: "console-log", Sig: "func(v: u32)"},
	{Key: 612, Name: "console-warn", Sig: "func(v: u32)"},
	{Key: 613, Name: "console-error", Sig: "func(v: u32)"},
	{Key: 614, Name: "console-debug", Sig: "func(v: u32)"},
	{Key: 620, Name: "date-now", Sig: "func() -> f64"},
	{Key: 621, Name: "monotonic-micros", Sig: "func() -> f64"},
	{Key: 630, Name: "parse-float", Sig: "func(s: u32) -> f64"},
	{Key: 640, Name: "json-stringify", Sig: "func(v: u32) -> u32"},
	{Key: 641, Name: "json-parse", Sig: "func(s: u32) -> u32"},
	{Key: 650, Name: "regexp-new", Sig: "func(src: u32, flags: u32) -> u32"},
	{Key: 651, Name: "regexp-exec", Sig: "func(re: u32, s: u32) -> u32"},
	{Key: 652, Name: "regexp-test", Sig: "func(re: u32, s: u32) -> bool"},
	{Key: 653, Name: "regexp-escape", Sig: "func(s: u32) -> u32"},
	{Key: 654, Name: "is-regexp", Sig: "func(v: u32) -> bool"},
}

// polyfillBindings mirror the builtin string operations, one import per
// builtin name in PolyfillNamespace.
var polyfillBindings = []Binding{
	{Key: 9000, Import: "cast", Name: "js-string-cast", Sig: "func(v: u32) -> u32"},
	{Key: 9001, Import: "test", Name: "js-string-test", Sig: "func(v: u32) -> bool"},
	{Key: 9002, Import: "fromCharCodeArray", Name: "js-string-from-char-code-array", Sig: "func(arr: u32, start: u32, end: u32) -> u32", Needs: NeedI16Get},
	{Key: 9003, Import: "intoCharCodeArray", Name: "js-string-into-char-code-array", Sig: "func(s: u32, arr: u32, start: u32) -> u32", Needs: NeedI16Set},
	{Key: 9004, Import: "fromCharCode", Name: "js-string-from-char-code", Sig: "func(c: u32) -> u32"},
	{Key: 9005, Import: "charCodeAt", Name: "js-string-char-code-at", Sig: "func(s: u32, i: u32) -> u32"},
	{Key: 9006, Import: "length", Name: "js-string-length", Sig: "func(s: u32) -> u32"},
	{Key: 9007, Import: "concat", Name: "js-string-concat", Sig: "func(a: u32, b: u32) -> u32"},
	{Key: 9008, Import: "substring", Name: "js-string-substring", Sig: "func(s: u32, start: u32, end: u32) -> u32"},
	{Key: 9009, Import: "equals", Name: "js-string-equals", Sig: "func(a: u32, b: u32) -> bool"},
	{Key: 9010, Import: "compare", Name: "js-string-compare", Sig: "func(a: u32, b: u32) -> s32"},
}

// Catalog is a key-ordered set of bindings.
type Catalog struct {
	byKey  map[uint32]Binding
	byName map[string]Binding
	sigs   map[uint32]Signature
	keys   []uint32
}

// NewCatalog indexes bindings and parses their signatures.
func NewCatalog(bindings []Binding) (*Catalog, error) {
	c := &Catalog{
		byKey:  make(map[uint32]Binding, len(bindings)),
		byName: make(map[string]Binding, len(bindings)),
		sigs:   make(map[uint32]Signature, len(bindings)),
	}
	for _, b := range bindings {
		if _, ok := PartitionOf(b.Key); !ok {
			return nil, fmt.Errorf("catalog key %d is outside every partition", b.Key)
		}
		if _, dup := c.byKey[b.Key]; dup {
			return nil, fmt.Errorf("catalog key %d declared twice", b.Key)
		}
		if _, dup := c.byName[b.Name]; dup {
			return nil, fmt.Errorf("capability %q declared twice", b.Name)
		}
		sig, err := ParseSignature(b.Sig)
		if err != nil {
			return nil, fmt.Errorf("catalog key %d: %w", b.Key, err)
		}
		c.byKey[b.Key] = b
		c.byName[b.Name] = b
		c.sigs[b.Key] = sig
		c.keys = append(c.keys, b.Key)
	}
	sort.Slice(c.keys, func(i, j int) bool { return c.keys[i] < c.keys[j] })
	return c, nil
}

var defaultCatalog = func() *Catalog {
	var all []Binding
	all = append(all, valueBindings...)
	all = append(all, laneBindings()...)
	all = append(all, viewBindings...)
	all = append(all, stringBindings...)
	all = append(all, asyncBindings...)
	all = append(all, wrapBindings()...)
	all = append(all, callbackBindings...)
	all = append(all, moduleBindings...)
	all = append(all, polyfillBindings...)
	c, err := NewCatalog(all)
	if err != nil {
		panic(err)
	}
	return c
}()

// Default returns the built-in catalog.
func Default() *Catalog { return defaultCatalog }

// Keys returns every key in ascending order.
func (c *Catalog) Keys() []uint32 {
	return append([]uint32(nil), c.keys...)
}

// Bindings returns every binding in key order.
func (c *Catalog) Bindings() []Binding {
	out := make([]Binding, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.byKey[k])
	}
	return out
}

// Lookup returns the binding for key.
func (c *Catalog) Lookup(key uint32) (Binding, bool) {
	b, ok := c.byKey[key]
	return b, ok
}

// ByName returns the binding implemented by capability name.
func (c *Catalog) ByName(name string) (Binding, bool) {
	b, ok := c.byName[name]
	return b, ok
}

// Signature returns the parsed signature of key.
func (c *Catalog) Signature(key uint32) (Signature, bool) {
	s, ok := c.sigs[key]
	return s, ok
}

// Resolve finds the binding a guest import refers to.
func (c *Catalog) Resolve(namespace, name string) (Binding, bool) {
	switch namespace {
	case Namespace:
		key, ok := ParseImportName(name)
		if !ok {
			return Binding{}, false
		}
		b, ok := c.byKey[key]
		if !ok || b.Reserved() {
			return Binding{}, false
		}
		return b, true
	case PolyfillNamespace:
		for _, k := range c.keys {
			if b := c.byKey[k]; b.Reserved() && b.ImportName() == name {
				return b, true
			}
		}
	}
	return Binding{}, false
}
