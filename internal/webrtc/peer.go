// Package webrtc implements the direct transport on top of pion.
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/logging"
	"github.com/pairlink/pairlink/internal/negotiation"
	"github.com/pairlink/pairlink/internal/signaling"
)

// DefaultLabel is the label of the data channel the host opens.
const DefaultLabel = "pairlink"

var (
	ErrChannelNotOpen = errors.New("channel not open")
	ErrPeerClosed     = errors.New("peer closed")
)

// Options configure the pion peer connection.
type Options struct {
	STUN       []string
	TURN       []string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Label      string
	// Loopback offers loopback host candidates, for same-machine peers.
	Loopback bool

	Log zerolog.Logger
	// PionLevel caps pion's own log output.
	PionLevel zerolog.Level
}

// OptionsFromConfig maps the ICE section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config, log zerolog.Logger) Options {
	user, pass := cfg.GetTURNCredentials()
	return Options{
		STUN:       cfg.GetSTUNServers(),
		TURN:       cfg.GetTURNServers(),
		TURNUser:   user,
		TURNPass:   pass,
		ForceRelay: cfg.ICE.ForceRelay,
		Label:      DefaultLabel,
		Log:        log,
		PionLevel:  zerolog.WarnLevel,
	}
}

func (o Options) configuration() pion.Configuration {
	var servers []pion.ICEServer
	if len(o.STUN) > 0 {
		servers = append(servers, pion.ICEServer{URLs: o.STUN})
	}
	if len(o.TURN) > 0 {
		servers = append(servers, pion.ICEServer{
			URLs:       o.TURN,
			Username:   o.TURNUser,
			Credential: o.TURNPass,
		})
	}

	policy := pion.ICETransportPolicyAll
	if len(o.TURN) > 0 && (o.ForceRelay || ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}
	return pion.Configuration{ICEServers: servers, ICETransportPolicy: policy}
}

// NewFactory returns a negotiation.PeerFactory creating pion peers.
func NewFactory(opts Options) negotiation.PeerFactory {
	return func(role signaling.Role, ev negotiation.Events) (negotiation.Peer, error) {
		return NewPeer(role, ev, opts)
	}
}

// Peer is a negotiation.Peer backed by a pion PeerConnection and a single
// ordered data channel. The host creates the channel, the guest adopts the
// one announced in the offer.
type Peer struct {
	pc  *pion.PeerConnection
	ev  negotiation.Events
	log zerolog.Logger

	mu          sync.Mutex
	dc          *pion.DataChannel
	dcOpen      bool
	pcConnected bool
	closed      bool
}

// NewPeer creates the peer connection for role.
func NewPeer(role signaling.Role, ev negotiation.Events, opts Options) (*Peer, error) {
	se := pion.SettingEngine{LoggerFactory: logging.NewLoggerFactory(opts.Log, opts.PionLevel)}
	if opts.Loopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	api := pion.NewAPI(pion.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(opts.configuration())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:  pc,
		ev:  ev,
		log: opts.Log.With().Str("component", "webrtc").Str("role", string(role)).Logger(),
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil || p.isClosed() {
			return
		}
		if p.ev.OnCandidate != nil {
			p.ev.OnCandidate(candidateFromInit(c.ToJSON()))
		}
	})
	pc.OnConnectionStateChange(p.onConnectionState)

	if role == signaling.RoleHost {
		label := opts.Label
		if label == "" {
			label = DefaultLabel
		}
		ordered := true
		dc, err := pc.CreateDataChannel(label, &pion.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		p.attach(dc)
	} else {
		pc.OnDataChannel(p.attach)
	}
	return p, nil
}

func (p *Peer) attach(dc *pion.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.mu.Lock()
		p.dcOpen = true
		p.mu.Unlock()
		p.log.Debug().Str("label", dc.Label()).Msg("data channel open")
		p.maybeConnected()
	})
	dc.OnClose(func() {
		p.mu.Lock()
		p.dcOpen = false
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			p.report(negotiation.HealthFailed)
		}
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		if p.ev.OnMessage != nil && !p.isClosed() {
			p.ev.OnMessage(msg.Data)
		}
	})
}

func (p *Peer) onConnectionState(s pion.PeerConnectionState) {
	p.log.Debug().Stringer("state", s).Msg("connection state")

	p.mu.Lock()
	p.pcConnected = s == pion.PeerConnectionStateConnected
	p.mu.Unlock()

	switch s {
	case pion.PeerConnectionStateConnecting:
		p.report(negotiation.HealthChecking)
	case pion.PeerConnectionStateConnected:
		p.maybeConnected()
	case pion.PeerConnectionStateDisconnected:
		p.report(negotiation.HealthDisconnected)
	case pion.PeerConnectionStateFailed:
		p.report(negotiation.HealthFailed)
	case pion.PeerConnectionStateClosed:
		p.report(negotiation.HealthClosed)
	}
}

// maybeConnected reports Connected once both the connection and the data
// channel are usable.
func (p *Peer) maybeConnected() {
	p.mu.Lock()
	ready := p.pcConnected && p.dcOpen
	p.mu.Unlock()
	if ready {
		p.report(negotiation.HealthConnected)
	}
}

func (p *Peer) report(h negotiation.Health) {
	if p.isClosed() || p.ev.OnHealth == nil {
		return
	}
	p.ev.OnHealth(h)
}

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) CreateOffer(restart bool) (signaling.Description, error) {
	offer, err := p.pc.CreateOffer(&pion.OfferOptions{ICERestart: restart})
	if err != nil {
		return signaling.Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return signaling.Description{}, fmt.Errorf("set local description: %w", err)
	}
	return descriptionFrom(p.pc.LocalDescription()), nil
}

func (p *Peer) CreateAnswer(offer signaling.Description) (signaling.Description, error) {
	if err := p.pc.SetRemoteDescription(descriptionTo(offer)); err != nil {
		return signaling.Description{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return signaling.Description{}, fmt.Errorf("set local description: %w", err)
	}
	return descriptionFrom(p.pc.LocalDescription()), nil
}

func (p *Peer) SetAnswer(answer signaling.Description) error {
	if err := p.pc.SetRemoteDescription(descriptionTo(answer)); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *Peer) AddCandidate(c signaling.Candidate) error {
	if err := p.pc.AddICECandidate(candidateToInit(c)); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// Send writes one frame to the data channel.
func (p *Peer) Send(frame []byte) error {
	p.mu.Lock()
	dc, open, closed := p.dc, p.dcOpen, p.closed
	p.mu.Unlock()
	switch {
	case closed:
		return ErrPeerClosed
	case dc == nil || !open:
		return ErrChannelNotOpen
	}
	return dc.Send(frame)
}

// Close tears the connection down. Callbacks stop firing once it returns.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}

func descriptionFrom(d *pion.SessionDescription) signaling.Description {
	if d == nil {
		return signaling.Description{}
	}
	return signaling.Description{Type: d.Type.String(), SDP: d.SDP}
}

func descriptionTo(d signaling.Description) pion.SessionDescription {
	return pion.SessionDescription{Type: pion.NewSDPType(d.Type), SDP: d.SDP}
}

func candidateFromInit(c pion.ICECandidateInit) signaling.Candidate {
	return signaling.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func candidateToInit(c signaling.Candidate) pion.ICECandidateInit {
	return pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
