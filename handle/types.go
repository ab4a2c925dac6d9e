package handle

import "fmt"

// Handle is an opaque reference to a host object in a Table.
// Handle 0 is reserved and always invalid.
type Handle uint64

// Invalid is the zero handle.
const Invalid Handle = 0

func makeHandle(seq, slot uint32) Handle {
	return Handle(uint64(seq)<<32 | uint64(slot))
}

func (h Handle) slot() uint32 { return uint32(h) }
func (h Handle) seq() uint32  { return uint32(h >> 32) }

func (h Handle) String() string {
	return fmt.Sprintf("handle(%d@%d)", h.slot(), h.seq())
}

// Kind tags the object bound to a handle.
type Kind uint8

const (
	KindBytes   Kind = iota + 1 // []byte
	KindString                  // string
	KindTexture                 // renderer texture
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindTexture:
		return "texture"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// EventType identifies a handle lifecycle notification.
type EventType uint8

const (
	EventStored EventType = iota
	EventFreed
)

// Event represents a handle lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// Dropper is implemented by values that release resources when their
// handle is freed.
type Dropper interface {
	Drop()
}
