package websocket

// State is the lifecycle state of a connection.
//
//	Connecting ──auth ok──▶ Authenticated ──registered──▶ Subscribed
//	     │                        │                           │
//	     └──────────auth failed / register failed / close─────┴──▶ Closed
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// next reports whether the transition from s to to is allowed.
func (s State) next(to State) bool {
	switch to {
	case StateAuthenticated:
		return s == StateConnecting
	case StateSubscribed:
		return s == StateAuthenticated
	case StateClosed:
		return s != StateClosed
	default:
		return false
	}
}
