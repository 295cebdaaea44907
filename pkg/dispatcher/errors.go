package dispatcher

import "errors"

var (
	// ErrDeliveryTimeout is recorded when a pushed event is not acknowledged
	// within the ack timeout. It is handed to the backpressure controller and
	// never surfaces to producers.
	ErrDeliveryTimeout = errors.New("delivery not acknowledged in time")
	ErrAlreadyStarted  = errors.New("dispatcher already started")
	ErrNotStarted      = errors.New("dispatcher not started")

	// errConnectionGone ends a push whose connection disconnected. The
	// stream redelivers on the subscriber's remaining connections.
	errConnectionGone = errors.New("connection disconnected during delivery")
)
