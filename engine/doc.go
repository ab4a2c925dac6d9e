// Package engine wraps the wazero runtime that hosts the guest.
//
// An Engine is created once per process. It configures wazero (memory
// limit, the threads proposal, an optional on-disk compilation cache),
// compiles the guest and reports what the guest expects from the host:
// its function imports, its exports and whether it imports its memory.
//
// # Shared Memory
//
// A threaded guest imports its memory instead of defining it, so that each
// execution context instantiated from the same CompiledModule resolves the
// import to one memory instance. ProvideMemory synthesizes a tiny module that
// exports exactly that memory and instantiates it under the import's module
// name (normally "env"):
//
//	guest, _ := eng.Compile(ctx, wasm)
//	if guest.ImportsMemory() {
//		eng.ProvideMemory(ctx, *guest.Memory)
//	}
//
// With threads enabled the memory is declared shared and carries a maximum,
// taken from the guest's import or the configured page limit.
package engine
