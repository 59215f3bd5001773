package model

// State is the lifecycle state of a connection session.
type State int

const (
	// StateConnecting is the initial state after the socket is accepted,
	// before a slot has been assigned.
	StateConnecting State = iota
	// StateIDAssigned means a slot was acquired and the assign-id frame
	// has been sent.
	StateIDAssigned
	// StateAuthenticating means the decode loop is running but no
	// login/signup has been accepted yet.
	StateAuthenticating
	// StateAuthenticated means a username is bound to the session and
	// chat messages are relayed.
	StateAuthenticated
	// StateDisconnected is terminal: the slot is released and the socket
	// closed.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIDAssigned:
		return "id_assigned"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
