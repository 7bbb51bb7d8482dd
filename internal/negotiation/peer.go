package negotiation

import "github.com/pairlink/pairlink/internal/signaling"

// Health is the connectivity reported by a direct transport.
type Health int

const (
	HealthNew Health = iota
	HealthChecking
	HealthConnected
	// HealthDisconnected is a transient dip; the transport may recover.
	HealthDisconnected
	HealthFailed
	HealthClosed
)

func (h Health) String() string {
	switch h {
	case HealthNew:
		return "new"
	case HealthChecking:
		return "checking"
	case HealthConnected:
		return "connected"
	case HealthDisconnected:
		return "disconnected"
	case HealthFailed:
		return "failed"
	case HealthClosed:
		return "closed"
	}
	return "unknown"
}

// Peer is one side of a direct transport. Implementations set the local
// descriptor inside CreateOffer and CreateAnswer, and the remote one inside
// CreateAnswer and SetAnswer.
type Peer interface {
	CreateOffer(restart bool) (signaling.Description, error)
	CreateAnswer(offer signaling.Description) (signaling.Description, error)
	SetAnswer(answer signaling.Description) error
	AddCandidate(c signaling.Candidate) error
	Send(frame []byte) error
	Close() error
}

// Events are the callbacks a Peer reports through. They may be invoked from
// any goroutine and must not block.
type Events struct {
	OnCandidate func(signaling.Candidate)
	OnHealth    func(Health)
	OnMessage   func([]byte)
}

// PeerFactory creates a fresh Peer for one negotiation attempt.
type PeerFactory func(role signaling.Role, ev Events) (Peer, error)

// Publisher sends negotiation envelopes to the other participant.
type Publisher interface {
	Publish(msgType string, sig signaling.Signal) error
}
