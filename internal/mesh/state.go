package mesh

import "fmt"

// State is a PeerLink's lifecycle position.
type State int

const (
	StateCreated State = iota
	StateSignaling
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSignaling:
		return "signaling"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// canTransition reports whether from -> to is a legal move. Closed is
// terminal and reachable from everywhere else.
func canTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	switch to {
	case StateSignaling:
		return from == StateCreated
	case StateConnected:
		return from == StateSignaling
	case StateClosed:
		return true
	}
	return false
}

// Role records which side of a link sent the first offer.
type Role int

const (
	// RoleInitiator is the newcomer: it offers to every member already present.
	RoleInitiator Role = iota
	// RoleResponder waits for the newcomer's offer.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}
