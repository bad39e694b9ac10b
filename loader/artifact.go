package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/table"
)

// Feature is a host feature a module requires.
type Feature uint32

const (
	// FeatureStringBuiltins is set when the module imports wasm:js-string.
	FeatureStringBuiltins Feature = 1 << iota
	// FeatureSharedMemory is set when a memory is declared shared.
	FeatureSharedMemory
	// FeatureWASI is set when the module imports wasi_snapshot_preview1.
	FeatureWASI
)

// AllFeatures is every feature this host can provide.
const AllFeatures = FeatureStringBuiltins | FeatureSharedMemory | FeatureWASI

var featureNames = []struct {
	f    Feature
	name string
}{
	{FeatureStringBuiltins, "string-builtins"},
	{FeatureSharedMemory, "shared-memory"},
	{FeatureWASI, "wasi"},
}

// Has reports whether every feature in x is set.
func (f Feature) Has(x Feature) bool { return f&x == x }

func (f Feature) String() string {
	var parts []string
	for _, n := range featureNames {
		if f.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseFeature maps a feature name to its flag.
func ParseFeature(name string) (Feature, bool) {
	for _, n := range featureNames {
		if n.name == name {
			return n.f, true
		}
	}
	return 0, false
}

// Export is a function or memory exported by the module.
type Export struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Kind    api.ExternType
}

// Signature returns the export's core function type.
func (e Export) Signature() table.Signature {
	return table.Signature{Params: e.Params, Results: e.Results}
}

// Artifact is a validated module. It is immutable.
type Artifact struct {
	bin      []byte
	sum      [sha256.Size]byte
	imports  []table.Import
	exports  map[string]Export
	custom   []string
	keys     []uint32
	features Feature
	needs    table.Need
	memory   bool
	shared   bool
}

// Bytes returns a copy of the module bytes.
func (a *Artifact) Bytes() []byte { return append([]byte(nil), a.bin...) }

// Len returns the module size in bytes.
func (a *Artifact) Len() int { return len(a.bin) }

// Checksum returns the SHA-256 of the module bytes.
func (a *Artifact) Checksum() [sha256.Size]byte { return a.sum }

// ID is the hex checksum.
func (a *Artifact) ID() string { return hex.EncodeToString(a.sum[:]) }

// Imports returns the declared imports in module order.
func (a *Artifact) Imports() []table.Import {
	return append([]table.Import(nil), a.imports...)
}

// Export looks up an export by name.
func (a *Artifact) Export(name string) (Export, bool) {
	e, ok := a.exports[name]
	return e, ok
}

// Exports returns every export.
func (a *Artifact) Exports() []Export {
	out := make([]Export, 0, len(a.exports))
	for _, e := range a.exports {
		out = append(out, e)
	}
	return out
}

// CustomSections returns the custom section names in module order.
func (a *Artifact) CustomSections() []string { return append([]string(nil), a.custom...) }

// Keys returns the bridge catalog keys the module imports, ascending.
func (a *Artifact) Keys() []uint32 { return append([]uint32(nil), a.keys...) }

// ImportsKey reports whether the module imports catalog key.
func (a *Artifact) ImportsKey(key uint32) bool {
	for _, k := range a.keys {
		if k == key {
			return true
		}
	}
	return false
}

// Features returns the host features the module requires.
func (a *Artifact) Features() Feature { return a.features }

// Needs returns the union of what the imported capabilities require.
func (a *Artifact) Needs() table.Need { return a.needs }

// HasMemory reports whether the module exports "memory".
func (a *Artifact) HasMemory() bool { return a.memory }

// SharedMemory reports whether any memory is declared shared.
func (a *Artifact) SharedMemory() bool { return a.shared }
