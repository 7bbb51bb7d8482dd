package session

import (
	"context"
	"errors"

	"github.com/pairlink/pairlink/internal/rendezvous"
	"github.com/pairlink/pairlink/internal/signaling"
)

// Connect dials the rendezvous server at serverURL, joins roomID (an empty
// id creates a room) and opens a session for the assigned role. Role,
// RoomID, PeerPresent and Signaler in cfg are filled in from the join.
// A full room is reported as ErrRoomFull together with the join result.
func Connect(ctx context.Context, serverURL, roomID string, cfg Config) (*Session, signaling.JoinResult, error) {
	client, err := rendezvous.Dial(ctx, serverURL, cfg.Log)
	if err != nil {
		return nil, signaling.JoinResult{}, NewError("dial", err)
	}

	res, err := client.Join(ctx, roomID)
	if err != nil {
		client.Close()
		if errors.Is(err, signaling.ErrRoomFull) {
			return nil, res, WrapError("join", ErrRoomFull, res.Message)
		}
		return nil, res, NewError("join", err)
	}

	cfg.Role = signaling.RoleGuest
	if res.IsHost {
		cfg.Role = signaling.RoleHost
	}
	cfg.RoomID = res.RoomID
	cfg.PeerPresent = res.ParticipantCount == signaling.RoomCapacity
	cfg.Signaler = client

	s, err := Open(cfg)
	if err != nil {
		client.Close()
		return nil, res, err
	}
	return s, res, nil
}
