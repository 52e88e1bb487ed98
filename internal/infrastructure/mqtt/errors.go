package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing while the client is not Connected.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps a failed connection attempt. It is reported through
	// the state-change callback, never returned from Connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic is returned when an empty or wildcard topic is provided
	// where a concrete topic is required.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrHandlerRegistered is returned when a second message handler is registered.
	ErrHandlerRegistered = errors.New("mqtt: message handler already registered")

	// ErrClosed is returned when operating on a client after Close.
	ErrClosed = errors.New("mqtt: client closed")
)
