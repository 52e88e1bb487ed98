package bridge

import "errors"

// Domain-specific errors for the bridge core.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMalformedPayload is reported when a bus message is not valid JSON.
	// The message is dropped; it is never returned into the bus delivery path.
	ErrMalformedPayload = errors.New("bridge: malformed payload")

	// ErrValidation is returned when a top-up command is rejected. The wrapped
	// message carries the human-readable reason.
	ErrValidation = errors.New("bridge: invalid top-up command")

	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("bridge: already started")
)
