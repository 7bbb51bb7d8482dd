package signaling

import (
	"errors"
	"strings"
	"sync"
)

// RoomCapacity is the fixed number of participants a room admits.
const RoomCapacity = 2

var (
	ErrRoomFull    = errors.New("room is full")
	ErrNotInRoom   = errors.New("participant is not in the room")
	ErrEmptyRoomID = errors.New("empty room id")
)

// Role of a participant, assigned by join order.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Room represents a single room where two peers can connect.
type Room struct {
	// ID is the normalized identifier of the room.
	ID string

	// Participants in join order; the first one is the host.
	Participants []string
}

// Host returns the first admitted participant.
func (r *Room) Host() string {
	if len(r.Participants) == 0 {
		return ""
	}
	return r.Participants[0]
}

// Other returns the occupant that is not id, if any.
func (r *Room) Other(id string) (string, bool) {
	for _, p := range r.Participants {
		if p != id {
			return p, true
		}
	}
	return "", false
}

func (r *Room) has(id string) bool {
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Admission describes an accepted join.
type Admission struct {
	RoomID string
	Role   Role
	Count  int
	// Other is the occupant that was already present, empty for the host.
	Other string
	// Host is the first-admitted participant of the room.
	Host string
}

// Departure describes the room after a participant left.
type Departure struct {
	RoomID    string
	Remaining int
	Other     string
	Deleted   bool
}

// Registry maps room ids to their occupants. All mutations are serialized
// by one mutex; contention is expected to be low.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// NormalizeRoomID trims and upper-cases a caller supplied room id.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Join admits participant into room roomID, creating the room if unseen.
// A join on a full room returns ErrRoomFull and changes nothing.
func (r *Registry) Join(roomID, participant string) (Admission, error) {
	roomID = NormalizeRoomID(roomID)
	if roomID == "" {
		return Admission{}, ErrEmptyRoomID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if ok && room.has(participant) {
		return r.admission(room, participant), nil
	}
	if ok && len(room.Participants) >= RoomCapacity {
		return Admission{}, ErrRoomFull
	}
	if !ok {
		room = &Room{ID: roomID}
		r.rooms[roomID] = room
	}
	room.Participants = append(room.Participants, participant)
	return r.admission(room, participant), nil
}

func (r *Registry) admission(room *Room, participant string) Admission {
	a := Admission{RoomID: room.ID, Role: RoleGuest, Count: len(room.Participants), Host: room.Host()}
	if room.Host() == participant {
		a.Role = RoleHost
	}
	a.Other, _ = room.Other(participant)
	return a
}

// Leave removes participant from roomID and deletes the room once empty.
func (r *Registry) Leave(roomID, participant string) (Departure, error) {
	roomID = NormalizeRoomID(roomID)

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok || !room.has(participant) {
		return Departure{}, ErrNotInRoom
	}
	kept := room.Participants[:0]
	for _, p := range room.Participants {
		if p != participant {
			kept = append(kept, p)
		}
	}
	room.Participants = kept

	d := Departure{RoomID: roomID, Remaining: len(kept)}
	d.Other, _ = room.Other(participant)
	if len(kept) == 0 {
		delete(r.rooms, roomID)
		d.Deleted = true
	}
	return d, nil
}

// Peer returns the other occupant of the room participant is in.
func (r *Registry) Peer(roomID, participant string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[NormalizeRoomID(roomID)]
	if !ok || !room.has(participant) {
		return "", false
	}
	return room.Other(participant)
}

// Lookup reports the participant count of a room and whether it is full.
// Unknown rooms report zero participants.
func (r *Registry) Lookup(roomID string) (count int, full bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[NormalizeRoomID(roomID)]
	if !ok {
		return 0, false
	}
	return len(room.Participants), len(room.Participants) >= RoomCapacity
}

// Exists reports whether a room is currently open.
func (r *Registry) Exists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[NormalizeRoomID(roomID)]
	return ok
}

// Len returns the number of open rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
