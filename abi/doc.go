// Package abi declares the function-call boundary between the host and the
// trace viewer guest.
//
// Every guest export and host import is described once as a Func with WIT
// primitive parameter and result types. The core WebAssembly signature is
// derived by flattening those types, and compiled modules are checked
// against the declarations before instantiation:
//
//	if err := abi.ValidateExports(compiled.ExportedFunctions(), abi.GuestExports, threads); err != nil {
//		return err // abi_mismatch or not_found
//	}
//
// Imports are classified by Resolve into implemented functions, trap stubs
// and (with strict imports) a MissingImportsError.
package abi
