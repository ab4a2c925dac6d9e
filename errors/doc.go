// Package errors provides structured error types for the trace host.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the offending value, an optional detail message and
// the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
//		Path("log", "ptr").
//		Value(ptr).
//		Detail("read of %d bytes past memory size %d", n, size).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(errors.PhaseMemory, offset, length, size)
//	err := errors.StaleHandle(errors.PhaseDispatch, ref)
//
// # Violations
//
// Some kinds describe a disagreement between guest and host about the
// boundary itself (out-of-bounds access, invalid UTF-8, stale handles,
// unimplemented imports, signature mismatches). Such errors report
// Fatal() == true; the runtime aborts the instance that raised them instead
// of continuing. Host functions raise violations with Raise, which panics
// with the *Error so that wazero unwinds the guest call.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
