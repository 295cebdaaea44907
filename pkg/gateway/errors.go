package gateway

import "errors"

var (
	// ErrSlowConsumer is returned by Push when the connection's outbound queue
	// is at or above its threshold.
	ErrSlowConsumer       = errors.New("slow consumer: outbound queue full")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrUnknownSignal      = errors.New("unknown gateway signal")
)
