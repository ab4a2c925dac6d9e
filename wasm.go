package tracehost

// Memory is a raw view of a guest's linear memory.
// Implementations must resolve every call against the current memory size;
// a slice returned by Read is only valid until the guest runs again.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, bool)
	Write(offset uint32, data []byte) bool
	MemorySizer
}

// MemorySizer provides the current size of WASM linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}
