package cmd

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/server"
	"github.com/pairlink/pairlink/internal/signaling"
)

func TestParseRoomInput(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		fromURL bool
		wantErr bool
	}{
		{in: "abcd1234", want: "ABCD1234"},
		{in: "  ABCD1234 ", want: "ABCD1234"},
		{in: "https://pairlink.example.com/r/abcd1234", want: "ABCD1234", fromURL: true},
		{in: "https://pairlink.example.com/r/ABCD1234/", want: "ABCD1234", fromURL: true},
		{in: "pairlink.example.com/r/XYZ", want: "XYZ", fromURL: true},
		{in: "https://pairlink.example.com/rooms", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, fromURL, err := parseRoomInput(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
			assert.Equal(t, tt.fromURL, fromURL)
		})
	}
}

func TestLookupRoom(t *testing.T) {
	rooms := signaling.NewRegistry()
	hub := signaling.NewHub(rooms, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(server.NewRouter(hub, config.Server{}, nil, zerolog.Nop()))
	defer srv.Close()

	st, err := lookupRoom(t.Context(), srv.URL, "NOPE0000")
	require.NoError(t, err)
	assert.Equal(t, server.RoomStatus{}, st)

	_, err = rooms.Join("ABCD1234", "p1")
	require.NoError(t, err)
	_, err = rooms.Join("ABCD1234", "p2")
	require.NoError(t, err)

	st, err = lookupRoom(t.Context(), srv.URL, "ABCD1234")
	require.NoError(t, err)
	assert.Equal(t, server.RoomStatus{Participants: 2, IsFull: true}, st)
}
