package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseMemory      Phase = "memory"      // guest linear memory access
	PhaseHandle      Phase = "handle"      // object reference table
	PhaseDispatch    Phase = "dispatch"    // host import called by the guest
	PhaseLoad        Phase = "load"        // loading session lifecycle
	PhaseStream      Phase = "stream"      // byte source and decompression
	PhaseSpawn       Phase = "spawn"       // worker execution contexts
	PhaseInstantiate Phase = "instantiate" // compile, link and instantiate
	PhaseABI         Phase = "abi"         // guest/host signature checks
	PhaseConfig      Phase = "config"      // configuration loading
	PhaseRuntime     Phase = "runtime"     // calls into the guest
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidUTF8    Kind = "invalid_utf8"
	KindStaleHandle    Kind = "stale_handle"
	KindTypeMismatch   Kind = "type_mismatch"
	KindUnreachable    Kind = "unreachable"
	KindMissingImport  Kind = "missing_import"
	KindABIMismatch    Kind = "abi_mismatch"
	KindBusy           Kind = "busy"
	KindRejected       Kind = "rejected"
	KindIO             Kind = "io"
	KindDecompress     Kind = "decompress"
	KindInstantiation  Kind = "instantiation"
	KindAborted        Kind = "aborted"
	KindCancelled      Kind = "cancelled"
	KindInvalidInput   Kind = "invalid_input"
	KindNotFound       Kind = "not_found"
	KindNotInitialized Kind = "not_initialized"
	KindTrap           Kind = "trap"
)

// fatalKinds are contract violations: guest and host disagree on the boundary.
var fatalKinds = map[Kind]bool{
	KindOutOfBounds:   true,
	KindInvalidUTF8:   true,
	KindStaleHandle:   true,
	KindTypeMismatch:  true,
	KindUnreachable:   true,
	KindABIMismatch:   true,
	KindMissingImport: true,
}

// Error is the structured error type used throughout the host
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

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Fatal reports whether the error is a contract violation.
func (e *Error) Fatal() bool {
	return fatalKinds[e.Kind]
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

// Path sets the field path
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

// Raise panics with err. Host functions use it to unwind the guest call on a
// contract violation; the runtime recovers the error from the call result.
func Raise(err *Error) {
	panic(err)
}

// IsFatal reports whether err (or anything it wraps) is a contract violation.
func IsFatal(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Fatal()
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Convenience constructors for common error patterns

// OutOfBounds creates an out of bounds memory access error
func OutOfBounds(phase Phase, offset, length, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access [%d, %d+%d) outside memory of %d bytes", offset, offset, length, size),
		Value:  offset,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// StaleHandle creates an error for a handle that was never issued or was freed
func StaleHandle(phase Phase, ref uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStaleHandle,
		Detail: fmt.Sprintf("handle %#x is not live", ref),
		Value:  ref,
	}
}

// TypeMismatch creates an error for a live handle bound to an unexpected kind of object
func TypeMismatch(phase Phase, ref uint64, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Detail: fmt.Sprintf("handle %#x refers to %s, want %s", ref, got, want),
		Value:  ref,
	}
}

// Unreachable creates an error for an import the host does not implement
func Unreachable(module, name string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindUnreachable,
		Path:   []string{module, name},
		Detail: "import is not implemented by this host",
	}
}

// ABIMismatch creates a signature mismatch error
func ABIMismatch(module, name, want, got string) *Error {
	path := []string{name}
	if module != "" {
		path = []string{module, name}
	}
	return &Error{
		Phase:  PhaseABI,
		Kind:   KindABIMismatch,
		Path:   path,
		Detail: fmt.Sprintf("signature %s, host expects %s", got, want),
	}
}

// Busy creates an error for a request rejected because one is already in flight
func Busy(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindBusy,
		Detail: fmt.Sprintf("%s already active", what),
	}
}

// IO wraps a byte source failure
func IO(cause error, detail string) *Error {
	return &Error{
		Phase:  PhaseStream,
		Kind:   KindIO,
		Detail: detail,
		Cause:  cause,
	}
}

// Decompress wraps a malformed compressed stream
func Decompress(cause error, format string) *Error {
	return &Error{
		Phase:  PhaseStream,
		Kind:   KindDecompress,
		Detail: fmt.Sprintf("%s stream", format),
		Cause:  cause,
	}
}

// Aborted creates an error for calls into an instance that was aborted
func Aborted(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindAborted,
		Detail: fmt.Sprintf("instance %q aborted", name),
		Cause:  cause,
	}
}

// Trap wraps an error returned from a guest export call
func Trap(export string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Path:   []string{export},
		Cause:  cause,
		Detail: "guest call failed",
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
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

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Instantiation creates an instantiation error
func Instantiation(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: fmt.Sprintf("instantiate %s", name),
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

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "host"
	Function  string // e.g., "draw"
}

// MissingImportsError is returned when the guest imports functions from a
// namespace the host does not provide and strict imports are enabled.
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
		return "[instantiate] missing_import: no imports specified"
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
		byNS[imp.Namespace] = append(byNS[imp.Namespace], imp.Function)
	}

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
