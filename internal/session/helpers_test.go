package session

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/negotiation"
	"github.com/pairlink/pairlink/internal/server"
	"github.com/pairlink/pairlink/internal/signaling"
	"github.com/pairlink/pairlink/internal/webrtc"
)

var errLinkDown = errors.New("link down")

// fakeNet pairs fake peers in memory. When direct is false descriptors are
// exchanged but the transport never comes up. directFrom, when set, brings
// the transport up only for the host's directFrom-th peer and later ones.
type fakeNet struct {
	mu         sync.Mutex
	direct     bool
	directFrom int
	peers      map[string]*fakePeer
	byRole     map[signaling.Role][]*fakePeer
	seq        int
}

func newFakeNet(direct bool) *fakeNet {
	return &fakeNet{direct: direct, peers: map[string]*fakePeer{}, byRole: map[signaling.Role][]*fakePeer{}}
}

func (n *fakeNet) factory() negotiation.PeerFactory {
	return func(role signaling.Role, ev negotiation.Events) (negotiation.Peer, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.seq++
		p := &fakePeer{net: n, id: fmt.Sprintf("%s-%d", role, n.seq), role: role, ev: ev}
		n.peers[p.id] = p
		n.byRole[role] = append(n.byRole[role], p)
		p.index = len(n.byRole[role])
		return p, nil
	}
}

func (n *fakeNet) last(role signaling.Role) *fakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	ps := n.byRole[role]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

func (n *fakeNet) count(role signaling.Role) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.byRole[role])
}

func (n *fakeNet) peersOf(role signaling.Role) []*fakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakePeer(nil), n.byRole[role]...)
}

func (n *fakeNet) lookup(id string) *fakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

// comesUp reports whether a connection offered by host p can be established.
func (n *fakeNet) comesUp(p *fakePeer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.directFrom > 0 {
		return p.index >= n.directFrom
	}
	return n.direct
}

type fakePeer struct {
	net   *fakeNet
	id    string
	role  signaling.Role
	index int
	ev    negotiation.Events

	mu       sync.Mutex
	remote   *fakePeer
	up       bool
	closed   bool
	restarts int
}

func (p *fakePeer) CreateOffer(restart bool) (signaling.Description, error) {
	p.mu.Lock()
	if restart {
		p.restarts++
	}
	p.mu.Unlock()
	p.ev.OnCandidate(signaling.Candidate{Candidate: "candidate:" + p.id})
	return signaling.Description{Type: "offer", SDP: p.id}, nil
}

func (p *fakePeer) CreateAnswer(offer signaling.Description) (signaling.Description, error) {
	remote := p.net.lookup(offer.SDP)
	if remote == nil {
		return signaling.Description{}, fmt.Errorf("unknown offer %q", offer.SDP)
	}
	p.mu.Lock()
	p.remote = remote
	p.mu.Unlock()
	p.ev.OnCandidate(signaling.Candidate{Candidate: "candidate:" + p.id})
	return signaling.Description{Type: "answer", SDP: p.id}, nil
}

func (p *fakePeer) SetAnswer(answer signaling.Description) error {
	remote := p.net.lookup(answer.SDP)
	if remote == nil {
		return fmt.Errorf("unknown answer %q", answer.SDP)
	}
	p.mu.Lock()
	p.remote = remote
	p.mu.Unlock()
	if p.net.comesUp(p) {
		p.setUp()
		remote.setUp()
		p.ev.OnHealth(negotiation.HealthConnected)
		remote.ev.OnHealth(negotiation.HealthConnected)
	}
	return nil
}

func (p *fakePeer) setUp() {
	p.mu.Lock()
	p.up = true
	p.mu.Unlock()
}

func (p *fakePeer) AddCandidate(signaling.Candidate) error { return nil }

func (p *fakePeer) Send(frame []byte) error {
	p.mu.Lock()
	remote, closed, up := p.remote, p.closed, p.up
	p.mu.Unlock()
	if closed || remote == nil || !up {
		return errLinkDown
	}
	remote.ev.OnMessage(frame)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

// fakeSignaler is an in-memory rendezvous connection.
type fakeSignaler struct {
	in chan *signaling.Message

	mu     sync.Mutex
	sent   []*signaling.Message
	closed bool
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{in: make(chan *signaling.Message, 16)}
}

func (f *fakeSignaler) Send(m *signaling.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSignaler) Incoming() <-chan *signaling.Message { return f.in }

func (f *fakeSignaler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSignaler) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ts []string
	for _, m := range f.sent {
		ts = append(ts, m.Type)
	}
	return ts
}

func (f *fakeSignaler) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recorder drains a session's events.
type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func record(s *Session) *recorder {
	r := &recorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for ev := range s.Events() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, ev := range r.events {
		if ev.Kind == StateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == Received {
			out = append(out, string(ev.Payload))
		}
	}
	return out
}

func (r *recorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == StateChanged {
			return r.events[i].Err
		}
	}
	return nil
}

// relayFrame wraps payload the way a peer sends it over the relayed path.
func relayFrame(t *testing.T, payload string) *signaling.Message {
	t.Helper()
	frame, err := webrtc.EncodeData([]byte(payload))
	require.NoError(t, err)
	msg, err := signaling.NewMessage(signaling.TypeFallbackData, signaling.FallbackData{Payload: frame})
	require.NoError(t, err)
	return msg
}

func startHub(t *testing.T) string {
	t.Helper()
	hub := signaling.NewHub(signaling.NewRegistry(), nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(server.NewRouter(hub, config.Server{ReadBufferSize: 4096, WriteBufferSize: 4096}, nil, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func testConfig(n *fakeNet, clk clock.Clock) Config {
	return Config{
		Retry:    RetryPolicy{MaxAttempts: 3, Delay: time.Second, Deadline: 5 * time.Second},
		Fallback: FallbackPolicy{Enabled: true, Deadline: 12 * time.Second},
		NewPeer:  n.factory(),
		Clock:    clk,
		Log:      zerolog.Nop(),
	}
}

func connect(t *testing.T, url, room string, cfg Config) (*Session, signaling.JoinResult) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, res, err := Connect(ctx, url, room, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, res
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		5*time.Second, 5*time.Millisecond, "want %s, have %s", want, s.State())
}

// advanceUntil moves the mock clock forward in steps until cond holds.
func advanceUntil(t *testing.T, clk *clock.Mock, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		clk.Add(step)
		return cond()
	}, 10*time.Second, 5*time.Millisecond)
}
