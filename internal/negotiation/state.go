package negotiation

import (
	"errors"
	"fmt"
)

// State of a single negotiation attempt.
type State int

const (
	Idle State = iota
	OfferPending
	DescriptorExchanged
	CandidatesExchanging
	Ready
	Failed
	Closed
)

var stateNames = [...]string{
	Idle:                 "idle",
	OfferPending:         "offer-pending",
	DescriptorExchanged:  "descriptor-exchanged",
	CandidatesExchanging: "candidates-exchanging",
	Ready:                "ready",
	Failed:               "failed",
	Closed:               "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further negotiation can happen.
func (s State) Terminal() bool { return s == Failed || s == Closed }

var ErrInvalidTransition = errors.New("invalid negotiation transition")

// transitions lists the legal successors of each state. Failed is reachable
// from every non-terminal state and Closed from every state but itself;
// those two are added in canTransition. Ready may go back to OfferPending
// (host restart) or DescriptorExchanged (guest answering a restart), and a
// pending restart may return to Ready if the old path recovers.
var transitions = map[State][]State{
	Idle:                 {OfferPending, DescriptorExchanged},
	OfferPending:         {DescriptorExchanged, Ready},
	DescriptorExchanged:  {CandidatesExchanging, Ready},
	CandidatesExchanging: {Ready, OfferPending, DescriptorExchanged},
	Ready:                {OfferPending, DescriptorExchanged},
}

func canTransition(from, to State) bool {
	switch {
	case from == Closed:
		return false
	case to == Closed:
		return true
	case to == Failed:
		return from != Failed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
