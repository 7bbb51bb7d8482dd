package rendezvous

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/server"
	"github.com/pairlink/pairlink/internal/signaling"
)

func startServer(t *testing.T) string {
	t.Helper()
	hub := signaling.NewHub(signaling.NewRegistry(), nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(server.NewRouter(hub, config.Server{ReadBufferSize: 1024, WriteBufferSize: 1024}, nil, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func next(t *testing.T, c *Client) *signaling.Message {
	t.Helper()
	select {
	case m, ok := <-c.Incoming():
		require.True(t, ok, "connection closed")
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestJoinAndRelay(t *testing.T) {
	url := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, b := dial(t, url), dial(t, url)
	res, err := a.Join(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, signaling.JoinResult{Success: true, IsHost: true, ParticipantCount: 1, RoomID: "ABCD1234"}, res)

	res, err = b.Join(ctx, "ABCD1234")
	require.NoError(t, err)
	assert.False(t, res.IsHost)
	assert.Equal(t, 2, res.ParticipantCount)

	assert.Equal(t, signaling.TypeUserJoined, next(t, a).Type)
	assert.Equal(t, signaling.TypeStartCall, next(t, a).Type)

	msg, err := signaling.NewMessage(signaling.TypeFallbackData, signaling.FallbackData{Payload: []byte("hi")})
	require.NoError(t, err)
	require.NoError(t, a.Send(msg))

	got := next(t, b)
	require.Equal(t, signaling.TypeFallbackData, got.Type)
	var fd signaling.FallbackData
	require.NoError(t, got.Decode(&fd))
	assert.Equal(t, []byte("hi"), fd.Payload)
}

func TestJoinFullRoom(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()
	a, b, c := dial(t, url), dial(t, url), dial(t, url)
	_, err := a.Join(ctx, "FULL")
	require.NoError(t, err)
	_, err = b.Join(ctx, "FULL")
	require.NoError(t, err)

	res, err := c.Join(ctx, "FULL")
	require.ErrorIs(t, err, signaling.ErrRoomFull)
	assert.False(t, res.Success)
	assert.Equal(t, signaling.RoomFullMessage, res.Message)
}

func TestSecondJoinRejected(t *testing.T) {
	url := startServer(t)
	a := dial(t, url)
	_, err := a.Join(context.Background(), "")
	require.NoError(t, err)
	_, err = a.Join(context.Background(), "ELSEWHERE")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestCloseIsIdempotent(t *testing.T) {
	url := startServer(t)
	a := dial(t, url)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(&signaling.Message{Type: signaling.TypeOffer}), ErrClosed)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-a.Incoming():
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
