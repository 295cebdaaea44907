package gateway

import (
	"context"
	"sync"
)

// DefaultQueueSize is the outbound buffer of a connection.
const DefaultQueueSize = 64

// Queue is the bounded outbound buffer transports put in front of a client.
// Enqueue never blocks: at the slow threshold it refuses the frame so the
// caller can back off instead of piling up memory.
type Queue struct {
	frames    chan Frame
	done      chan struct{}
	once      sync.Once
	threshold int
}

// NewQueue creates a queue holding up to size frames. Enqueue reports
// ErrSlowConsumer once threshold frames are waiting; a threshold outside
// (0, size] means the queue must be full.
func NewQueue(size, threshold int) *Queue {
	size = max(size, 1)
	if threshold <= 0 || threshold > size {
		threshold = size
	}
	return &Queue{
		frames:    make(chan Frame, size),
		done:      make(chan struct{}),
		threshold: threshold,
	}
}

func (q *Queue) Enqueue(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-q.done:
		return ErrConnectionClosed
	default:
	}

	if len(q.frames) >= q.threshold {
		return ErrSlowConsumer
	}

	select {
	case q.frames <- f:
		return nil
	case <-q.done:
		return ErrConnectionClosed
	default:
		return ErrSlowConsumer
	}
}

// Frames is drained by the transport's writer.
func (q *Queue) Frames() <-chan Frame {
	return q.frames
}

// Done is closed by Close.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of frames waiting to be written.
func (q *Queue) Len() int {
	return len(q.frames)
}

// Close stops accepting frames. It is safe to call more than once. The
// frames channel is never closed so a racing Enqueue cannot panic.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
