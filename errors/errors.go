package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile  Phase = "compile"  // module loading and validation
	PhaseLink     Phase = "link"     // import resolution
	PhaseView     Phase = "view"     // typed views over buffers
	PhaseString   Phase = "string"   // string conversion
	PhaseCallback Phase = "callback" // wrapped guest functions
	PhaseAsync    Phase = "async"    // timers, promises, event loop
	PhaseRuntime  Phase = "runtime"  // instance operations
	PhaseHost     Phase = "host"     // host capability execution
	PhaseLoad     Phase = "load"     // deferred and dynamic module loading
)

// Kind categorizes the error
type Kind string

const (
	KindCompile       Kind = "compile"
	KindLink          Kind = "link"
	KindRange         Kind = "range"
	KindDecode        Kind = "decode"
	KindDetached      Kind = "detached"
	KindMissingImport Kind = "missing_import"
	KindCollision     Kind = "collision"
	KindUnsupported   Kind = "unsupported"
	KindInvalidInput  Kind = "invalid_input"
	KindNotFound      Kind = "not_found"
	KindClosed        Kind = "closed"
	KindGuestTrap     Kind = "guest_trap"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && e.Phase != t.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinels for errors.Is matching by kind regardless of phase.
var (
	ErrCompile  = &Error{Kind: KindCompile}
	ErrLink     = &Error{Kind: KindLink}
	ErrRange    = &Error{Kind: KindRange}
	ErrDecode   = &Error{Kind: KindDecode}
	ErrDetached = &Error{Kind: KindDetached}
	ErrClosed   = &Error{Kind: KindClosed}

	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrUnsupported  = &Error{Kind: KindUnsupported}
	ErrNotFound     = &Error{Kind: KindNotFound}
)

// Compile creates a compile error for malformed or unexpected module bytes
func Compile(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindCompile,
		Detail: detail,
		Cause:  cause,
	}
}

// Link creates a link error
func Link(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindLink,
		Detail: detail,
		Cause:  cause,
	}
}

// Range creates an out of range error for buffer and view access
func Range(phase Phase, offset, length, size uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRange,
		Detail: fmt.Sprintf("range [%d, %d+%d) exceeds length %d", offset, offset, length, size),
		Value:  offset,
	}
}

// OutOfBounds creates a range error for an index access
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRange,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// Detached creates an error for access through a view whose backing store changed
func Detached(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDetached,
		Detail: detail,
	}
}

// Decode creates a decode error for malformed encoded text
func Decode(data []byte, cause error) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  PhaseString,
		Kind:   KindDecode,
		Detail: fmt.Sprintf("malformed input: %x", preview),
		Cause:  cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Closed creates an error for use after close
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// Collision creates an import collision error
func Collision(namespace, name, detail string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindCollision,
		Path:   []string{namespace, name},
		Detail: detail,
	}
}

// GuestTrap wraps a failure raised while the guest was executing
func GuestTrap(export string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindGuestTrap,
		Detail: fmt.Sprintf("call %s", export),
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// IsCompileError reports whether err is or wraps a compile error
func IsCompileError(err error) bool { return errors.Is(err, ErrCompile) }

// IsLinkError reports whether err is or wraps a link error.
// Missing imports are link errors too.
func IsLinkError(err error) bool {
	var mi *MissingImportsError
	return errors.Is(err, ErrLink) || errors.As(err, &mi)
}

// IsRangeError reports whether err is or wraps a range error.
// Detached views count as range errors.
func IsRangeError(err error) bool {
	return errors.Is(err, ErrRange) || errors.Is(err, ErrDetached)
}

// IsDecodeError reports whether err is or wraps a decode error
func IsDecodeError(err error) bool { return errors.Is(err, ErrDecode) }

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "bridge"
	Function  string // e.g., "_401"
	Reason    string // optional, e.g. "signature mismatch"
}

// MissingImportsError is returned when linking fails due to missing host functions
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "namespace#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ns, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Namespace: ns,
			Function:  fn,
		})
	}
	return result
}

func parseImportKey(key string) (namespace, function string) {
	ns, fn, found := strings.Cut(key, "#")
	if found {
		return ns, fn
	}
	return key, ""
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d host function(s):\n", len(e.Imports)))

	// Group by namespace for cleaner output
	byNS := make(map[string][]string)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		fn := imp.Function
		if imp.Reason != "" {
			fn += " (" + imp.Reason + ")"
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], fn)
	}
	sort.Strings(nsOrder)

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, fn := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
