// Package memory provides bounds-checked access to a guest's linear memory.
//
// An Accessor is the only component that touches raw guest bytes. Every
// operation revalidates the requested range against the memory's current
// size and copies data out, so no view survives a call that may grow (and
// reallocate) the memory. Failures are *errors.Error values with
// Fatal() == true; the host dispatcher raises them to abort the instance.
//
// wazero's api.Memory satisfies tracehost.Memory directly. Buffer is a
// growable in-process implementation used where no wazero instance exists.
package memory
