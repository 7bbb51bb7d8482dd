package webrtc

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/pairlink/internal/negotiation"
	"github.com/pairlink/pairlink/internal/signaling"
)

type endpoint struct {
	peer       *Peer
	candidates chan signaling.Candidate
	health     chan negotiation.Health
	messages   chan []byte
}

func newEndpoint(t *testing.T, role signaling.Role) *endpoint {
	t.Helper()
	e := &endpoint{
		candidates: make(chan signaling.Candidate, 64),
		health:     make(chan negotiation.Health, 64),
		messages:   make(chan []byte, 8),
	}
	peer, err := NewPeer(role, negotiation.Events{
		OnCandidate: func(c signaling.Candidate) { trySend(e.candidates, c) },
		OnHealth:    func(h negotiation.Health) { trySend(e.health, h) },
		OnMessage:   func(b []byte) { trySend(e.messages, b) },
	}, Options{Loopback: true, Log: zerolog.Nop(), PionLevel: zerolog.Disabled})
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	e.peer = peer
	return e
}

func trySend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func TestLoopbackConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	host := newEndpoint(t, signaling.RoleHost)
	guest := newEndpoint(t, signaling.RoleGuest)

	assert.ErrorIs(t, host.peer.Send([]byte("early")), ErrChannelNotOpen)

	offer, err := host.peer.CreateOffer(false)
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	answer, err := guest.peer.CreateAnswer(offer)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	require.NoError(t, host.peer.SetAnswer(answer))

	timeout := time.After(20 * time.Second)
	hostUp, guestUp := false, false
	for !hostUp || !guestUp {
		select {
		case c := <-host.candidates:
			_ = guest.peer.AddCandidate(c)
		case c := <-guest.candidates:
			_ = host.peer.AddCandidate(c)
		case h := <-host.health:
			hostUp = hostUp || h == negotiation.HealthConnected
		case h := <-guest.health:
			guestUp = guestUp || h == negotiation.HealthConnected
		case <-timeout:
			t.Fatal("peers did not connect")
		}
	}

	frame, err := EncodeData([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, host.peer.Send(frame))

	select {
	case got := <-guest.messages:
		payload, err := DecodeData(got)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, host.peer.Close())
	require.NoError(t, host.peer.Close())
	assert.ErrorIs(t, host.peer.Send(frame), ErrPeerClosed)
}
