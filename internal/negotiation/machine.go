// Package negotiation drives the offer, answer and candidate exchange that
// opens a direct transport between the two participants of a room.
//
// A Machine covers exactly one attempt and is not safe for concurrent use;
// its owner feeds it events from a single goroutine.
package negotiation

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/signaling"
)

// ErrWrongRole is returned when a participant is asked to do what only the
// other role may do, e.g. a host receiving an offer.
var ErrWrongRole = errors.New("operation not allowed for role")

// Machine is the negotiation state machine for one attempt.
type Machine struct {
	role    signaling.Role
	attempt int
	peer    Peer
	pub     Publisher
	log     zerolog.Logger

	state State
	err   error

	localSet   bool
	remoteSet  bool
	restarting bool

	// remote candidates that arrived before the remote descriptor
	pendingRemote []signaling.Candidate
	// local candidates gathered before the local descriptor was published
	pendingLocal []signaling.Candidate
}

// New creates a machine for attempt. The machine owns peer and closes it
// on Close.
func New(role signaling.Role, attempt int, peer Peer, pub Publisher, log zerolog.Logger) *Machine {
	return &Machine{
		role:    role,
		attempt: attempt,
		peer:    peer,
		pub:     pub,
		log: log.With().
			Str("component", "negotiation").
			Str("role", string(role)).
			Int("attempt", attempt).
			Logger(),
	}
}

func (m *Machine) State() State { return m.state }
func (m *Machine) Attempt() int { return m.attempt }
func (m *Machine) Err() error { return m.err }
func (m *Machine) Role() signaling.Role { return m.role }

// Pending returns the number of remote candidates waiting for the remote
// descriptor.
func (m *Machine) Pending() int { return len(m.pendingRemote) }

func (m *Machine) transition(to State) error {
	if !canTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	if m.state != to {
		m.log.Debug().Stringer("from", m.state).Stringer("to", to).Msg("transition")
	}
	m.state = to
	return nil
}

// Start begins the attempt. The host produces and publishes an offer; the
// guest stays idle until HandleOffer.
func (m *Machine) Start() error {
	if m.state != Idle {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, m.state)
	}
	if m.role != signaling.RoleHost {
		return nil
	}
	return m.offer(false)
}

// Restart renegotiates in place with a fresh candidate exchange (ICE
// restart). Only the host initiates it.
func (m *Machine) Restart() error {
	if m.role != signaling.RoleHost {
		return fmt.Errorf("%w: %s cannot restart", ErrWrongRole, m.role)
	}
	if m.state != Ready && m.state != CandidatesExchanging {
		return fmt.Errorf("%w: restart from %s", ErrInvalidTransition, m.state)
	}
	return m.offer(true)
}

func (m *Machine) offer(restart bool) error {
	if err := m.transition(OfferPending); err != nil {
		return err
	}
	desc, err := m.peer.CreateOffer(restart)
	if err != nil {
		return m.Fail(fmt.Errorf("create offer: %w", err))
	}
	// the remote descriptor is replaced by the coming answer
	m.remoteSet = false
	m.restarting = restart
	if err := m.pub.Publish(signaling.TypeOffer, signaling.Signal{Attempt: m.attempt, Description: &desc}); err != nil {
		return m.Fail(fmt.Errorf("publish offer: %w", err))
	}
	m.localDescriptorSet()
	m.log.Debug().Bool("restart", restart).Msg("offer published")
	return nil
}

// HandleOffer answers a remote offer. A second offer on a machine that is
// already past the descriptor exchange is a restart from the host.
func (m *Machine) HandleOffer(offer signaling.Description) error {
	if m.role != signaling.RoleGuest {
		return fmt.Errorf("%w: %s received an offer", ErrWrongRole, m.role)
	}
	if err := m.transition(DescriptorExchanged); err != nil {
		return err
	}
	answer, err := m.peer.CreateAnswer(offer)
	if err != nil {
		return m.Fail(fmt.Errorf("remote offer rejected: %w", err))
	}
	m.remoteDescriptorSet()
	if err := m.pub.Publish(signaling.TypeAnswer, signaling.Signal{Attempt: m.attempt, Description: &answer}); err != nil {
		return m.Fail(fmt.Errorf("publish answer: %w", err))
	}
	m.localDescriptorSet()
	m.log.Debug().Msg("answer published")
	return nil
}

// HandleAnswer applies the guest's answer to a pending offer.
func (m *Machine) HandleAnswer(answer signaling.Description) error {
	if m.role != signaling.RoleHost {
		return fmt.Errorf("%w: %s received an answer", ErrWrongRole, m.role)
	}
	if m.state != OfferPending {
		return fmt.Errorf("%w: answer in %s", ErrInvalidTransition, m.state)
	}
	if err := m.peer.SetAnswer(answer); err != nil {
		return m.Fail(fmt.Errorf("remote answer rejected: %w", err))
	}
	if err := m.transition(DescriptorExchanged); err != nil {
		return err
	}
	m.remoteDescriptorSet()
	return nil
}

// HandleCandidate applies a remote candidate, or queues it until the remote
// descriptor is set. A candidate the transport refuses is logged and
// dropped; it never fails the attempt.
func (m *Machine) HandleCandidate(c signaling.Candidate) {
	if m.state.Terminal() {
		return
	}
	if !m.remoteSet {
		m.pendingRemote = append(m.pendingRemote, c)
		m.log.Trace().Int("queued", len(m.pendingRemote)).Msg("remote candidate queued")
		return
	}
	m.addCandidate(c)
	m.exchanging()
}

func (m *Machine) addCandidate(c signaling.Candidate) {
	if err := m.peer.AddCandidate(c); err != nil {
		m.log.Warn().Err(err).Msg("dropping remote candidate")
	}
}

// LocalCandidate publishes a locally gathered candidate, or buffers it
// until the local descriptor has been published.
func (m *Machine) LocalCandidate(c signaling.Candidate) {
	if m.state.Terminal() {
		return
	}
	if !m.localSet {
		m.pendingLocal = append(m.pendingLocal, c)
		return
	}
	m.publishCandidate(c)
	m.exchanging()
}

func (m *Machine) publishCandidate(c signaling.Candidate) {
	if err := m.pub.Publish(signaling.TypeICECandidate, signaling.Signal{Attempt: m.attempt, Candidate: &c}); err != nil {
		m.log.Warn().Err(err).Msg("dropping local candidate")
	}
}

func (m *Machine) localDescriptorSet() {
	m.localSet = true
	pending := m.pendingLocal
	m.pendingLocal = nil
	for _, c := range pending {
		m.publishCandidate(c)
	}
	if len(pending) > 0 {
		m.exchanging()
	}
}

func (m *Machine) remoteDescriptorSet() {
	m.remoteSet = true
	pending := m.pendingRemote
	m.pendingRemote = nil
	for _, c := range pending {
		m.addCandidate(c)
	}
	if len(pending) > 0 {
		m.log.Debug().Int("count", len(pending)).Msg("applied queued candidates")
		m.exchanging()
	}
}

// exchanging moves a completed descriptor exchange into the candidate phase.
func (m *Machine) exchanging() {
	if m.state == DescriptorExchanged {
		_ = m.transition(CandidatesExchanging)
	}
}

// Connected records that the transport reports an established connection.
// While a restart offer is pending the old path may recover on its own.
func (m *Machine) Connected() error {
	switch {
	case m.state == Ready:
		return nil
	case m.state == OfferPending && !m.restarting:
		return fmt.Errorf("%w: connected before answer", ErrInvalidTransition)
	}
	if err := m.transition(Ready); err != nil {
		return err
	}
	m.restarting = false
	return nil
}

// Fail moves the machine to Failed and returns err for convenience.
func (m *Machine) Fail(err error) error {
	if m.state.Terminal() {
		return err
	}
	_ = m.transition(Failed)
	m.err = err
	m.log.Debug().Err(err).Msg("negotiation failed")
	return err
}

// Close releases the peer. It is safe to call in any state and more than once.
func (m *Machine) Close() error {
	if m.state == Closed {
		return nil
	}
	_ = m.transition(Closed)
	m.pendingLocal, m.pendingRemote = nil, nil
	return m.peer.Close()
}
