package fanout

import "errors"

var (
	// ErrRegistryClosed is returned when registering after Close.
	ErrRegistryClosed = errors.New("fanout: registry closed")

	// ErrDuplicateSession is returned when a session ID is registered twice.
	ErrDuplicateSession = errors.New("fanout: session already registered")
)
