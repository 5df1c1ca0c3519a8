package handshake

import (
	"fmt"
	"time"

	"github.com/meshguard/attestmesh/pkg/identity"
)

// State is a handshake session's position in its state machine. Transitions
// are strictly forward; no state is re-enterable.
type State int

const (
	StatePending State = iota
	StateChallengeSent
	StateResponseReceived
	StateCompleted
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateChallengeSent:
		return "ChallengeSent"
	case StateResponseReceived:
		return "ResponseReceived"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ErrInvalidTransition is returned when a caller attempts a state
// transition other than the single legal forward edge from the session's
// current state.
var ErrInvalidTransition = fmt.Errorf("handshake: invalid state transition")

// validEdges is the strictly-forward handshake state machine:
// Pending -> ChallengeSent -> ResponseReceived -> Completed, with Failed
// reachable from any non-terminal state.
var validEdges = map[State]map[State]bool{
	StatePending:          {StateChallengeSent: true, StateFailed: true},
	StateChallengeSent:    {StateResponseReceived: true, StateFailed: true},
	StateResponseReceived: {StateCompleted: true, StateFailed: true},
}

// Session is a single handshake's transient state. A session owns its
// nonces exclusively and is destroyed on Completed/Failed or by the
// timeout sweep.
type Session struct {
	PeerNodeID     identity.NodeID
	State          State
	OurNonce       [16]byte
	PeerNonce      [16]byte
	StartedAt      time.Time
	LastActivityAt time.Time
	TrustScore     float64
}

// transition moves the session to next, rejecting any edge not present in
// validEdges.
func (s *Session) transition(next State, now time.Time) error {
	if !validEdges[s.State][next] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, next)
	}
	s.State = next
	s.LastActivityAt = now
	return nil
}
