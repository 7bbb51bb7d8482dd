package session

import "fmt"

// State is the single connection state a session exposes.
type State int

const (
	Connecting State = iota
	ConnectedDirect
	ConnectedRelayed
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case ConnectedDirect:
		return "connected-direct"
	case ConnectedRelayed:
		return "connected-relayed"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Connected reports whether payloads can currently be sent.
func (s State) Connected() bool { return s == ConnectedDirect || s == ConnectedRelayed }

// Terminal reports whether the session will never change state again
// except to Closed.
func (s State) Terminal() bool { return s == Failed || s == Closed }

// EventKind distinguishes session events.
type EventKind int

const (
	StateChanged EventKind = iota
	Received
)

// Event is emitted on the channel returned by Session.Events.
type Event struct {
	Kind EventKind

	// State and Err are set for StateChanged. Err explains why the state
	// was entered, when there is a reason worth reporting.
	State State
	Err   error

	// Payload is set for Received.
	Payload []byte
}
