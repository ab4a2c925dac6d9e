// Package handle provides the object reference table shared between the host
// and a guest execution context.
//
// The guest cannot hold host values directly, so every host object it needs
// to name (a decoded file chunk, a texture, a file name) is stored in a Table
// and represented by a 64-bit Handle.
//
// # Handle Layout
//
// A Handle packs a slot index and the sequence number issued when the slot
// was filled:
//
//	63            32 31             0
//	+---------------+---------------+
//	|   sequence    |  slot index   |
//	+---------------+---------------+
//
// The sequence number is a per-table counter starting at 1 and is never
// reused, so handles returned by Store are strictly increasing for the
// lifetime of the table even though slots are recycled. A Load against a
// freed slot, or against a slot that was refilled since, compares sequence
// numbers and reports absent. Handle 0 is never issued.
//
// # Usage
//
//	table := handle.NewTable()
//
//	h, err := table.Store(handle.KindBytes, chunk)
//	data, ok := table.Bytes(h)
//	table.Free(h) // idempotent
//
// Free on a handle that is already free is a no-op. Callers that require a
// handle to be live (for example the host dispatcher) must treat a failed
// Load as a contract violation.
//
// # Observers
//
// Observers receive Stored and Freed events synchronously, outside the table
// lock:
//
//	table.Subscribe(handle.NewLogObserver(logger))
//
// # Thread Safety
//
// Table is safe for concurrent use.
package handle
