package memory

import "sync"

// PageSize is the WebAssembly page size.
const PageSize = 65536

// Buffer is a growable in-process memory. Growth reallocates the backing
// array, so views returned by Read are only valid until the next Grow.
type Buffer struct {
	data     []byte
	maxPages uint32
	mu       sync.RWMutex
}

// NewBuffer creates a buffer of pages pages that may grow to maxPages.
// maxPages of 0 means no limit.
func NewBuffer(pages, maxPages uint32) *Buffer {
	return &Buffer{data: make([]byte, int(pages)*PageSize), maxPages: maxPages}
}

// NewBufferBytes creates a fixed buffer over a copy of b.
func NewBufferBytes(b []byte) *Buffer {
	data := make([]byte, len(b))
	copy(data, b)
	return &Buffer{data: data}
}

func (b *Buffer) Size() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint32(len(b.data))
}

func (b *Buffer) Read(offset, length uint32) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	end := uint64(offset) + uint64(length)
	if end > uint64(len(b.data)) {
		return nil, false
	}
	return b.data[offset:end:end], true
}

func (b *Buffer) Write(offset uint32, data []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(b.data)) {
		return false
	}
	copy(b.data[offset:], data)
	return true
}

// Grow adds delta pages and returns the previous page count, or false if
// the maximum would be exceeded.
func (b *Buffer) Grow(delta uint32) (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := uint32(len(b.data) / PageSize)
	if b.maxPages != 0 && uint64(prev)+uint64(delta) > uint64(b.maxPages) {
		return prev, false
	}
	grown := make([]byte, (int(prev)+int(delta))*PageSize)
	copy(grown, b.data)
	b.data = grown
	return prev, true
}
