package loader

import "fmt"

// State is the state of the loading session.
type State int32

const (
	StateIdle State = iota
	StateAwaitingAccept
	StateDetecting
	StateStreaming
	StateDraining
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAccept:
		return "awaiting_accept"
	case StateDetecting:
		return "detecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Active reports whether a session occupies the loader.
func (s State) Active() bool {
	return s >= StateAwaitingAccept && s <= StateDraining
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Progress is a snapshot of the current or last session.
type Progress struct {
	Err        error
	Name       string
	Encoding   string // "", "gzip" or "br"
	Total      uint64 // declared raw size, 0 when unknown
	Underlying uint64 // raw bytes consumed from the source
	Logical    uint64 // bytes delivered to the guest
	Chunks     int
	State      State
}
