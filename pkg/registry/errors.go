package registry

import "errors"

var (
	// ErrAlreadyBound is returned when a connection is bound to a different subscriber.
	ErrAlreadyBound      = errors.New("connection already bound to another subscriber")
	ErrNotBound          = errors.New("connection is not bound")
	ErrInvalidSubscriber = errors.New("invalid subscriber id")
	ErrInvalidChannel    = errors.New("invalid channel id")
	// ErrStorage wraps failures of the durable subscriber store.
	ErrStorage = errors.New("subscriber storage failure")
)
