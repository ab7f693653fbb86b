package session

import "errors"

var (
	// ErrSourceUnavailable is returned when the session source cannot be
	// initialized. It is the only fatal error.
	ErrSourceUnavailable = errors.New("session source unavailable")

	// ErrChannelClosed is returned when sending on a stream whose receiver
	// has stopped.
	ErrChannelClosed = errors.New("channel closed")

	// ErrUnrecognizedEvent classifies events that do not map to registry state.
	ErrUnrecognizedEvent = errors.New("unrecognized event")

	// ErrStaleUpdate classifies updates for sessions the registry does not
	// hold. They are resolved by synthesizing a record, never returned.
	ErrStaleUpdate = errors.New("update for unknown session")
)
