package signaling

import "encoding/json"

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`

	// client is the connection that sent the message.
	// It's used internally by the Hub and not sent over JSON.
	client *Client `json:"-"`
}

// Message type constants.
const (
	TypeJoinRoom     = "join-room"
	TypeJoinResult   = "join-result"
	TypeStartCall    = "start-call"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeUserJoined   = "user-joined"
	TypeUserLeft     = "user-left"
	TypeFallbackData = "fallback-data"
	TypeError        = "error"
)

// RoomFullMessage is the join rejection text for a third participant.
const RoomFullMessage = "Room is full (max 2 participants)"

// JoinResult acknowledges a join-room request.
type JoinResult struct {
	Success          bool   `json:"success"`
	IsHost           bool   `json:"isHost"`
	ParticipantCount int    `json:"participantCount"`
	RoomID           string `json:"roomId,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Membership is the payload of user-joined and user-left.
type Membership struct {
	ParticipantCount int `json:"participantCount"`
}

// Description is a session descriptor (offer or answer).
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a transport reachability hint.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Signal is the payload of offer, answer and ice-candidate. Attempt
// identifies the negotiation round the signal belongs to.
type Signal struct {
	Attempt     int          `json:"attempt"`
	Description *Description `json:"description,omitempty"`
	Candidate   *Candidate   `json:"candidate,omitempty"`
}

// FallbackData carries an opaque payload over the relayed path.
type FallbackData struct {
	Payload []byte `json:"payload"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage builds a message with a JSON encoded payload.
func NewMessage(t string, payload any) (*Message, error) {
	m := &Message{Type: t}
	if payload == nil {
		return m, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	m.Payload = b
	return m, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// IsRelayed reports whether the server forwards this type to the other occupant.
func IsRelayed(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeFallbackData:
		return true
	}
	return false
}

func mustMessage(t string, payload any) *Message {
	m, err := NewMessage(t, payload)
	if err != nil {
		panic(err)
	}
	return m
}
