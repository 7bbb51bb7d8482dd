package webrtc

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MessageTypeData marks a frame carrying an application payload.
const MessageTypeData = "data"

var ErrUnexpectedFrame = errors.New("unexpected frame type")

// Message is the frame format used on the data channel and inside
// fallback-data envelopes.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// DecodePayload decodes the message payload into the provided value.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload.
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

// EncodeData wraps an opaque payload into a data frame.
func EncodeData(payload []byte) ([]byte, error) {
	msg, err := NewMessage(MessageTypeData, payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return msgpack.Marshal(msg)
}

// DecodeData extracts the opaque payload from a data frame.
func DecodeData(frame []byte) ([]byte, error) {
	var msg Message
	if err := msgpack.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if msg.Type != MessageTypeData {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedFrame, msg.Type)
	}
	var payload []byte
	if err := msg.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return payload, nil
}
