package session

import (
	"errors"
	"fmt"

	"github.com/pairlink/pairlink/internal/signaling"
)

var (
	ErrRoomFull             = signaling.ErrRoomFull
	ErrPeerAbsent           = errors.New("peer absent")
	ErrNegotiationTimeout   = errors.New("negotiation timed out")
	ErrTransportBroken      = errors.New("transport broken")
	ErrNegotiationExhausted = errors.New("negotiation attempts exhausted")
	ErrClosed               = errors.New("session closed")
)

// Error describes a failure of a session operation.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
