package handle

import (
	"errors"
	"sync"
)

var (
	ErrClosed    = errors.New("handle table closed")
	ErrExhausted = errors.New("handle sequence exhausted")
)

type slot struct {
	value any
	seq   uint32
	kind  Kind
	live  bool
}

// Table is a generation-checked slot arena mapping handles to host objects.
type Table struct {
	slots     []slot
	free      []uint32
	observers []Observer
	next      uint32
	live      int
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		slots: make([]slot, 0, 64),
		free:  make([]uint32, 0, 16),
		next:  1,
	}
}

// Store binds value to a new handle.
func (t *Table) Store(kind Kind, value any) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Invalid, ErrClosed
	}
	if t.next == 0 {
		t.mu.Unlock()
		return Invalid, ErrExhausted
	}

	seq := t.next
	t.next++

	s := slot{value: value, seq: seq, kind: kind, live: true}
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx] = s
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, s)
	}
	t.live++
	t.mu.Unlock()

	h := makeHandle(seq, idx)
	t.notify(Event{Type: EventStored, Handle: h, Kind: kind, Value: value})
	return h, nil
}

// StoreBytes stores a byte slice.
func (t *Table) StoreBytes(data []byte) (Handle, error) {
	return t.Store(KindBytes, data)
}

// StoreString stores a string.
func (t *Table) StoreString(s string) (Handle, error) {
	return t.Store(KindString, s)
}

// lookup returns the live slot for h. Caller holds mu.
func (t *Table) lookup(h Handle) (*slot, bool) {
	if h == Invalid {
		return nil, false
	}
	idx := h.slot()
	if int(idx) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.live || s.seq != h.seq() {
		return nil, false
	}
	return s, true
}

// Load returns the object bound to h, or false if h was never issued or
// has been freed.
func (t *Table) Load(h Handle) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.lookup(h)
	if !ok {
		return nil, false
	}
	return s.value, true
}

// LoadKind returns the object bound to h and its kind.
func (t *Table) LoadKind(h Handle) (any, Kind, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.lookup(h)
	if !ok {
		return nil, 0, false
	}
	return s.value, s.kind, true
}

// LoadTyped returns the object only if it was stored with kind.
func (t *Table) LoadTyped(h Handle, kind Kind) (any, bool) {
	v, k, ok := t.LoadKind(h)
	if !ok || k != kind {
		return nil, false
	}
	return v, true
}

// Bytes returns the contents of a bytes or string handle.
func (t *Table) Bytes(h Handle) ([]byte, bool) {
	v, k, ok := t.LoadKind(h)
	if !ok {
		return nil, false
	}
	switch k {
	case KindBytes:
		b, ok := v.([]byte)
		return b, ok
	case KindString:
		s, ok := v.(string)
		return []byte(s), ok
	}
	return nil, false
}

// ByteLen returns the length of a bytes or string handle without copying.
func (t *Table) ByteLen(h Handle) (int, bool) {
	v, k, ok := t.LoadKind(h)
	if !ok {
		return 0, false
	}
	switch k {
	case KindBytes:
		b, ok := v.([]byte)
		return len(b), ok
	case KindString:
		s, ok := v.(string)
		return len(s), ok
	}
	return 0, false
}

// Free clears the binding for h. Freeing a handle that is not live is a
// no-op and returns false.
func (t *Table) Free(h Handle) bool {
	t.mu.Lock()
	s, ok := t.lookup(h)
	if !ok {
		t.mu.Unlock()
		return false
	}
	value, kind := s.value, s.kind
	s.value = nil
	s.live = false
	t.free = append(t.free, h.slot())
	t.live--
	t.mu.Unlock()

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{Type: EventFreed, Handle: h, Kind: kind, Value: value})
	return true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Each iterates over live handles in slot order until fn returns false.
func (t *Table) Each(fn func(Handle, Kind, any) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, s := range t.slots {
		if s.live {
			if !fn(makeHandle(s.seq, uint32(i)), s.kind, s.value) {
				return
			}
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Clear frees all live handles. The sequence counter is not reset.
func (t *Table) Clear() {
	var handles []Handle
	t.Each(func(h Handle, _ Kind, _ any) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Free(h)
	}
}

// Close frees all handles and stops accepting new ones.
func (t *Table) Close() error {
	t.Clear()
	t.mu.Lock()
	t.closed = true
	t.slots = nil
	t.free = nil
	t.mu.Unlock()
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnHandleEvent(e)
	}
}
