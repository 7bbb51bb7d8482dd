// Package session keeps an opaque payload channel alive between the two
// participants of a room. It drives negotiation attempts with deadlines and
// retries, renegotiates after transient transport dips, and downgrades to
// relaying payloads through the rendezvous server when the direct path does
// not come up in time.
//
// All session state is owned by one event loop goroutine. Transport
// callbacks, timers and rendezvous messages are fed to it as events, and the
// public methods talk to it through channels.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/negotiation"
	"github.com/pairlink/pairlink/internal/signaling"
	"github.com/pairlink/pairlink/internal/webrtc"
)

// Signaler is the session's connection to the rendezvous server.
type Signaler interface {
	Send(msg *signaling.Message) error
	// Incoming is closed when the connection ends.
	Incoming() <-chan *signaling.Message
	Close() error
}

// Config wires a session.
type Config struct {
	Role   signaling.Role
	RoomID string
	// PeerPresent is true when the other participant was already in the
	// room when this one joined.
	PeerPresent bool

	Retry    RetryPolicy
	Fallback FallbackPolicy

	NewPeer  negotiation.PeerFactory
	Signaler Signaler

	// Clock defaults to the wall clock.
	Clock    clock.Clock
	Recorder *Recorder
	Log      zerolog.Logger
}

func (c *Config) validate() error {
	switch {
	case c.NewPeer == nil:
		return errors.New("session: NewPeer is required")
	case c.Signaler == nil:
		return errors.New("session: Signaler is required")
	case c.Role != signaling.RoleHost && c.Role != signaling.RoleGuest:
		return fmt.Errorf("session: unknown role %q", c.Role)
	case c.Retry.MaxAttempts < 1:
		return errors.New("session: retry policy needs at least one attempt")
	case c.Retry.Deadline <= 0:
		return errors.New("session: retry deadline must be positive")
	case c.Fallback.Enabled && c.Fallback.Deadline <= 0:
		return errors.New("session: fallback deadline must be positive")
	}
	return nil
}

type timerKind int

const (
	attemptDeadline timerKind = iota
	retryDelay
	fallbackDeadline
	numTimers
)

func (k timerKind) String() string {
	return [...]string{"attempt-deadline", "retry-delay", "fallback-deadline"}[k]
}

type timerEvent struct {
	kind timerKind
	gen  uint64
}

type peerEventKind int

const (
	peerCandidate peerEventKind = iota
	peerHealth
	peerMessage
)

type peerEvent struct {
	attempt   int
	kind      peerEventKind
	candidate signaling.Candidate
	health    negotiation.Health
	data      []byte
}

type command struct {
	send  []byte
	close bool
	reply chan bool
}

// Session is the transport facade handed to the application.
type Session struct {
	cfg   Config
	log   zerolog.Logger
	clock clock.Clock

	cmds      chan command
	done      chan struct{}
	closeOnce sync.Once
	peerq     *queue[peerEvent]
	timerq    *queue[timerEvent]
	events    *notifier

	// owned by the loop
	role         signaling.Role
	state        State
	attempt      int
	failures     int
	machine      *negotiation.Machine
	peer         negotiation.Peer
	peerPresent  bool
	connectStart time.Time
	timers       [numTimers]*clock.Timer
	gens         [numTimers]uint64
	inbox        <-chan *signaling.Message

	mu       sync.Mutex
	snapshot State
	metrics  Metrics
}

// Open starts a session. It returns once the event loop is running; the
// first event is a StateChanged to Connecting.
func Open(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	s := &Session{
		cfg:         cfg,
		clock:       cfg.Clock,
		log:         cfg.Log.With().Str("component", "session").Str("room", cfg.RoomID).Logger(),
		cmds:        make(chan command),
		done:        make(chan struct{}),
		peerq:       newQueue[peerEvent](),
		timerq:      newQueue[timerEvent](),
		events:      newNotifier(),
		role:        cfg.Role,
		peerPresent: cfg.PeerPresent,
		inbox:       cfg.Signaler.Incoming(),
	}
	s.emitState(nil)

	if s.role == signaling.RoleGuest && s.peerPresent {
		s.beginRun()
	}
	go s.run()
	return s, nil
}

// Events returns the session's event stream. It is closed after the
// Closed state has been delivered. A caller that asks for it must keep
// reading until it is closed. Payloads received before the first call
// are discarded, so callers that want them subscribe right after Open.
func (s *Session) Events() <-chan Event {
	return s.events.channel()
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Metrics returns a snapshot of the session counters.
func (s *Session) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Send delivers payload over whichever path is open. It reports false when
// no path is open; nothing is buffered for later delivery.
func (s *Session) Send(payload []byte) bool {
	reply := make(chan bool, 1)
	select {
	case s.cmds <- command{send: payload, reply: reply}:
	case <-s.done:
		return false
	}
	return <-reply
}

// Close releases the transport, negotiation state and rendezvous
// connection. It always succeeds and may be called any number of times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		select {
		case s.cmds <- command{close: true}:
		case <-s.done:
		}
	})
	<-s.done
	return nil
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run() {
	defer close(s.done)

	for {
		select {
		case cmd := <-s.cmds:
			if cmd.close {
				s.shutdown()
				return
			}
			cmd.reply <- s.send(cmd.send)

		case msg, ok := <-s.inbox:
			if !ok {
				s.inbox = nil
				s.rendezvousLost()
				continue
			}
			s.handleMessage(msg)

		case <-s.peerq.signal():
			for _, ev := range s.peerq.drain() {
				s.handlePeerEvent(ev)
			}

		case <-s.timerq.signal():
			for _, ev := range s.timerq.drain() {
				s.handleTimer(ev)
			}
		}
	}
}

// setState records a state change and emits it. err explains the change.
func (s *Session) setState(st State, err error) {
	if s.state == st && err == nil {
		return
	}
	s.log.Info().Stringer("from", s.state).Stringer("to", st).AnErr("reason", err).Msg("state changed")
	s.state = st
	s.emitState(err)
}

func (s *Session) emitState(err error) {
	s.mu.Lock()
	s.snapshot = s.state
	s.mu.Unlock()
	s.events.emit(Event{Kind: StateChanged, State: s.state, Err: err})
}

func (s *Session) updateMetrics(fn func(*Metrics)) {
	s.mu.Lock()
	fn(&s.metrics)
	s.mu.Unlock()
}

func (s *Session) arm(k timerKind, d time.Duration) {
	s.disarm(k)
	gen := s.gens[k]
	s.timers[k] = s.clock.AfterFunc(d, func() {
		s.timerq.push(timerEvent{kind: k, gen: gen})
	})
}

// disarm stops a timer. A fire already queued is discarded by the
// generation check.
func (s *Session) disarm(k timerKind) {
	if t := s.timers[k]; t != nil {
		t.Stop()
		s.timers[k] = nil
	}
	s.gens[k]++
}

func (s *Session) disarmAll() {
	for k := range numTimers {
		s.disarm(k)
	}
}

func (s *Session) handleTimer(ev timerEvent) {
	if ev.gen != s.gens[ev.kind] || s.timers[ev.kind] == nil {
		return
	}
	s.timers[ev.kind] = nil
	s.log.Debug().Stringer("timer", ev.kind).Int("attempt", s.attempt).Msg("timer fired")

	switch ev.kind {
	case attemptDeadline:
		s.attemptFailed(WrapError("negotiate", ErrNegotiationTimeout, fmt.Sprintf("attempt %d", s.attempt)))
	case retryDelay:
		if s.state != Connecting {
			return
		}
		if s.role == signaling.RoleGuest && s.machine != nil {
			// the host's next offer was adopted during the delay
			return
		}
		s.startAttempt()
	case fallbackDeadline:
		if s.state == Connecting && s.cfg.Fallback.Enabled {
			s.activateFallback(NewError("negotiate", ErrNegotiationTimeout))
		}
	}
}

// beginRun starts a fresh series of attempts, and the fallback deadline
// that covers the whole series.
func (s *Session) beginRun() {
	s.failures = 0
	s.connectStart = s.clock.Now()
	if s.cfg.Fallback.Enabled {
		s.arm(fallbackDeadline, s.cfg.Fallback.Deadline)
	}
	s.startAttempt()
}

// startAttempt opens a new negotiation window. The host creates a peer and
// publishes an offer right away; the guest waits for the host's offer.
func (s *Session) startAttempt() {
	s.teardownPeer()
	s.arm(attemptDeadline, s.cfg.Retry.Deadline)
	if s.role != signaling.RoleHost {
		s.log.Debug().Msg("waiting for offer")
		return
	}

	s.attempt++
	s.countAttempt()
	if err := s.newMachine(); err != nil {
		s.attemptFailed(err)
		return
	}
	if err := s.machine.Start(); err != nil {
		s.attemptFailed(err)
	}
}

func (s *Session) countAttempt() {
	s.updateMetrics(func(m *Metrics) { m.Attempts++ })
	s.cfg.Recorder.attempt()
}

func (s *Session) newMachine() error {
	attempt := s.attempt
	peer, err := s.cfg.NewPeer(s.role, negotiation.Events{
		OnCandidate: func(c signaling.Candidate) {
			s.peerq.push(peerEvent{attempt: attempt, kind: peerCandidate, candidate: c})
		},
		OnHealth: func(h negotiation.Health) {
			s.peerq.push(peerEvent{attempt: attempt, kind: peerHealth, health: h})
		},
		OnMessage: func(b []byte) {
			s.peerq.push(peerEvent{attempt: attempt, kind: peerMessage, data: b})
		},
	})
	if err != nil {
		return NewError("create peer", err)
	}
	s.peer = peer
	s.machine = negotiation.New(s.role, attempt, peer, publisher{s}, s.log)
	return nil
}

func (s *Session) teardownPeer() {
	if s.machine == nil {
		return
	}
	if err := s.machine.Close(); err != nil {
		s.log.Debug().Err(err).Msg("closing peer")
	}
	s.machine, s.peer = nil, nil
}

// attemptFailed handles a failed or timed out attempt: retry after the
// policy delay, or give up once the attempts are used.
func (s *Session) attemptFailed(err error) {
	if s.state.Terminal() || s.state == ConnectedRelayed {
		return
	}
	s.log.Warn().Err(err).Int("attempt", s.attempt).Msg("attempt failed")
	if s.machine != nil {
		s.machine.Fail(err)
	}
	s.teardownPeer()
	s.disarm(attemptDeadline)

	s.lostDirect(err)
	if s.cfg.Fallback.Enabled && s.timers[fallbackDeadline] == nil {
		s.arm(fallbackDeadline, s.cfg.Fallback.Deadline)
	}

	s.failures++
	if s.failures >= s.cfg.Retry.MaxAttempts {
		s.exhausted(err)
		return
	}
	s.arm(retryDelay, s.cfg.Retry.Delay)
}

// lostDirect leaves connected-direct after the transport went away; the
// next attempts form a new series.
func (s *Session) lostDirect(err error) {
	if s.state != ConnectedDirect {
		return
	}
	s.setState(Connecting, err)
	s.failures = 0
	s.connectStart = s.clock.Now()
}

// exhausted ends direct negotiation. With fallback enabled the session
// stays connecting until the fallback deadline downgrades it.
func (s *Session) exhausted(last error) {
	if s.cfg.Fallback.Enabled {
		s.log.Info().Int("attempts", s.failures).Msg("direct attempts exhausted, waiting for fallback")
		return
	}
	s.fail(WrapError("negotiate", ErrNegotiationExhausted,
		fmt.Sprintf("%d attempts, last: %v", s.failures, last)))
}

// fail moves to the terminal failed state. Only Close leaves it.
func (s *Session) fail(err error) {
	s.disarmAll()
	s.teardownPeer()
	s.cfg.Recorder.failed()
	s.setState(Failed, err)
}

// activateFallback switches to relayed delivery for the rest of the session.
func (s *Session) activateFallback(reason error) {
	s.disarmAll()
	s.teardownPeer()
	elapsed := s.sinceStart()
	s.updateMetrics(func(m *Metrics) {
		m.FallbackActivations++
		m.TimeToConnect = elapsed
	})
	s.cfg.Recorder.connected(ConnectedRelayed, elapsed)
	s.setState(ConnectedRelayed, reason)
}

func (s *Session) directReady() {
	s.disarm(attemptDeadline)
	s.disarm(retryDelay)
	s.disarm(fallbackDeadline)
	s.failures = 0
	if s.state == ConnectedDirect {
		return
	}
	elapsed := s.sinceStart()
	s.updateMetrics(func(m *Metrics) {
		m.DirectSuccesses++
		m.TimeToConnect = elapsed
	})
	s.cfg.Recorder.connected(ConnectedDirect, elapsed)
	s.setState(ConnectedDirect, nil)
}

func (s *Session) sinceStart() time.Duration {
	if s.connectStart.IsZero() {
		return 0
	}
	return s.clock.Since(s.connectStart)
}

// transientDip reacts to a connected transport losing connectivity without
// failing: the host renegotiates candidates in place, both sides give the
// transport one attempt deadline to come back.
func (s *Session) transientDip() {
	s.setState(Connecting, NewError("transport", ErrTransportBroken))
	s.connectStart = s.clock.Now()
	s.arm(attemptDeadline, s.cfg.Retry.Deadline)
	if s.role != signaling.RoleHost {
		return
	}
	s.log.Info().Int("attempt", s.attempt).Msg("restarting ICE")
	if err := s.machine.Restart(); err != nil {
		s.attemptFailed(err)
	}
}

func (s *Session) handlePeerEvent(ev peerEvent) {
	if ev.attempt != s.attempt || s.machine == nil || s.state.Terminal() {
		return
	}
	switch ev.kind {
	case peerCandidate:
		s.machine.LocalCandidate(ev.candidate)

	case peerMessage:
		s.deliver(ev.data)

	case peerHealth:
		s.log.Debug().Stringer("health", ev.health).Int("attempt", ev.attempt).Msg("transport health")
		switch ev.health {
		case negotiation.HealthConnected:
			if err := s.machine.Connected(); err != nil {
				s.log.Debug().Err(err).Msg("ignoring early connected report")
				return
			}
			s.directReady()
		case negotiation.HealthDisconnected:
			if s.state == ConnectedDirect {
				s.transientDip()
			}
		case negotiation.HealthFailed, negotiation.HealthClosed:
			s.attemptFailed(NewError("transport", ErrTransportBroken))
		}
	}
}

func (s *Session) handleMessage(msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeStartCall:
		s.startCall()

	case signaling.TypeUserJoined:
		s.peerPresent = true

	case signaling.TypeUserLeft:
		s.peerLeft()

	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICECandidate:
		var sig signaling.Signal
		if err := msg.Decode(&sig); err != nil {
			s.log.Warn().Err(err).Str("type", msg.Type).Msg("malformed signal")
			return
		}
		s.handleSignal(msg.Type, sig)

	case signaling.TypeFallbackData:
		s.handleRelayed(msg)

	case signaling.TypeError:
		var p signaling.ErrorPayload
		_ = msg.Decode(&p)
		s.log.Warn().Str("error", p.Error).Msg("rendezvous server error")
	}
}

// startCall is the directed signal that the room is full and this
// participant, as host, should begin negotiating.
func (s *Session) startCall() {
	s.peerPresent = true
	if s.state.Terminal() || s.state == ConnectedRelayed {
		return
	}
	if s.role != signaling.RoleHost {
		s.log.Info().Msg("promoted to host")
		s.role = signaling.RoleHost
	}
	s.disarmAll()
	s.beginRun()
}

func (s *Session) peerLeft() {
	s.peerPresent = false
	if s.state.Terminal() || s.state == ConnectedRelayed {
		return
	}
	s.disarmAll()
	s.teardownPeer()
	s.failures = 0
	s.connectStart = time.Time{}
	s.setState(Connecting, NewError("room", ErrPeerAbsent))
}

func (s *Session) handleSignal(typ string, sig signaling.Signal) {
	if s.state.Terminal() || s.state == ConnectedRelayed {
		return
	}
	log := s.log.With().Str("type", typ).Int("attempt", sig.Attempt).Logger()

	switch typ {
	case signaling.TypeOffer:
		if s.role != signaling.RoleGuest || sig.Description == nil {
			log.Warn().Msg("unexpected offer")
			return
		}
		switch {
		case sig.Attempt > s.attempt:
			// the host moved on to a new attempt
			s.teardownPeer()
			s.lostDirect(NewError("transport", ErrTransportBroken))
			if s.cfg.Fallback.Enabled && s.timers[fallbackDeadline] == nil {
				s.arm(fallbackDeadline, s.cfg.Fallback.Deadline)
			}
			s.attempt = sig.Attempt
			s.countAttempt()
			s.disarm(retryDelay)
			s.arm(attemptDeadline, s.cfg.Retry.Deadline)
			if s.connectStart.IsZero() {
				s.connectStart = s.clock.Now()
			}
			if err := s.newMachine(); err != nil {
				s.attemptFailed(err)
				return
			}
		case sig.Attempt < s.attempt || s.machine == nil:
			log.Debug().Msg("stale offer")
			return
		}
		if err := s.machine.HandleOffer(*sig.Description); err != nil {
			s.attemptFailed(err)
		}

	case signaling.TypeAnswer:
		if s.role != signaling.RoleHost || sig.Description == nil || sig.Attempt != s.attempt || s.machine == nil {
			log.Debug().Msg("stale answer")
			return
		}
		if err := s.machine.HandleAnswer(*sig.Description); err != nil {
			if errors.Is(err, negotiation.ErrInvalidTransition) {
				log.Debug().Err(err).Msg("ignoring answer")
				return
			}
			s.attemptFailed(err)
		}

	case signaling.TypeICECandidate:
		if sig.Candidate == nil || sig.Attempt != s.attempt || s.machine == nil {
			return
		}
		s.machine.HandleCandidate(*sig.Candidate)
	}
}

// handleRelayed receives a payload from the relayed path. A payload that
// arrives while this side still negotiates means the peer already fell
// back, so this side follows.
func (s *Session) handleRelayed(msg *signaling.Message) {
	if s.state.Terminal() {
		return
	}
	var fd signaling.FallbackData
	if err := msg.Decode(&fd); err != nil {
		s.log.Warn().Err(err).Msg("malformed fallback data")
		return
	}
	s.peerPresent = true
	if s.cfg.Fallback.Enabled && s.state != ConnectedRelayed {
		s.activateFallback(nil)
	}
	s.deliver(fd.Payload)
}

func (s *Session) deliver(frame []byte) {
	payload, err := webrtc.DecodeData(frame)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping undecodable frame")
		return
	}
	if !s.events.emit(Event{Kind: Received, Payload: payload}) {
		s.log.Debug().Int("bytes", len(payload)).Msg("no subscriber, payload discarded")
	}
}

func (s *Session) send(payload []byte) bool {
	frame, err := webrtc.EncodeData(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("encode payload")
		return false
	}

	switch s.state {
	case ConnectedDirect:
		if s.peer == nil {
			return false
		}
		if err := s.peer.Send(frame); err != nil {
			s.log.Debug().Err(err).Msg("direct send failed")
			return false
		}
		return true

	case ConnectedRelayed:
		if !s.peerPresent || s.inbox == nil {
			return false
		}
		msg, err := signaling.NewMessage(signaling.TypeFallbackData, signaling.FallbackData{Payload: frame})
		if err != nil {
			return false
		}
		if err := s.cfg.Signaler.Send(msg); err != nil {
			s.log.Debug().Err(err).Msg("relayed send failed")
			return false
		}
		return true
	}
	return false
}

// rendezvousLost handles the end of the rendezvous connection. A direct
// transport survives it; anything that still needs the server does not.
func (s *Session) rendezvousLost() {
	s.log.Warn().Msg("rendezvous connection lost")
	if s.state.Terminal() || s.state == ConnectedDirect {
		return
	}
	s.fail(WrapError("rendezvous", ErrTransportBroken, "connection to rendezvous server lost"))
}

func (s *Session) shutdown() {
	s.disarmAll()
	s.teardownPeer()
	if err := s.cfg.Signaler.Close(); err != nil {
		s.log.Debug().Err(err).Msg("closing rendezvous connection")
	}
	s.peerq.close()
	s.timerq.close()
	s.setState(Closed, nil)
	s.events.finish()
}

// publisher sends negotiation envelopes through the rendezvous server.
type publisher struct {
	s *Session
}

func (p publisher) Publish(msgType string, sig signaling.Signal) error {
	msg, err := signaling.NewMessage(msgType, sig)
	if err != nil {
		return err
	}
	msg.RoomID = p.s.cfg.RoomID
	return p.s.cfg.Signaler.Send(msg)
}
