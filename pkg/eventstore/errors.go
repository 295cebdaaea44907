package eventstore

import "errors"

var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached
	// or rejects an operation. The driver error is joined to it.
	ErrStoreUnavailable = errors.New("event store unavailable")
	ErrInvalidChannel   = errors.New("invalid channel id")
	ErrChannelNotFound  = errors.New("channel not found")
)
