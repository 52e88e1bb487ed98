package bridge

// State is the bridge lifecycle state.
//
//	Idle → Connecting → Subscribed → Running
//	Running → Reconnecting → Subscribed → Running
//
// Dashboard sessions are unaffected by any of these transitions.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSubscribed
	StateRunning
	StateReconnecting
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
