package mqtt

import "time"

// ConnectionState is the Client's view of its broker connection.
type ConnectionState int

const (
	// StateDisconnected: never connected, or closed.
	StateDisconnected ConnectionState = iota

	// StateConnecting: first connection attempt in progress.
	StateConnecting

	// StateConnected: connected and all tracked topics subscribed.
	StateConnected

	// StateReconnecting: connection failed or was lost; retrying with backoff.
	StateReconnecting
)

// String returns the lower-case state name used in logs and health output.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChangeFunc observes connection state transitions. err is non-nil when
// the transition was caused by a transport failure (failed attempt, lost
// connection, failed resubscription).
type StateChangeFunc func(state ConnectionState, err error)

// backoff produces exponentially growing reconnect delays: initial, 2x, 4x...
// capped at max. It is not safe for concurrent use; each connect loop owns one.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, maxDelay time.Duration) *backoff {
	return &backoff{initial: initial, max: maxDelay}
}

// Next returns the delay before the next attempt.
func (b *backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
	} else {
		b.current *= 2
	}
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}
