package broadcast

import (
	"context"
	"sync"
)

// MemoryBroadcaster fans messages out to subscribers of the same process.
// A subscriber whose buffer is full misses the message and stays subscribed.
type MemoryBroadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[*subscriber[T]]func() bool // value stops the ctx watcher
	buffer int
	closed bool
}

// NewMemoryBroadcaster returns a broadcaster whose subscribers buffer up to
// buffer messages each, at least one.
func NewMemoryBroadcaster[T any](buffer int) *MemoryBroadcaster[T] {
	return &MemoryBroadcaster[T]{
		subs:   make(map[*subscriber[T]]func() bool),
		buffer: max(buffer, 1),
	}
}

// Subscribe registers a subscriber until ctx ends or it is closed. After
// Close the returned subscriber is already closed.
func (b *MemoryBroadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	sub := newSubscriber[T](b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = sub.Close()
		return sub
	}
	sub.onClose = func() { b.drop(sub) }
	b.subs[sub] = context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub
}

// Broadcast offers msg to every subscriber without blocking.
func (b *MemoryBroadcaster[T]) Broadcast(_ context.Context, msg Message[T]) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBroadcasterClosed
	}
	for sub := range b.subs {
		sub.send(msg)
	}
	return nil
}

func (b *MemoryBroadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber. Later calls are no-ops.
func (b *MemoryBroadcaster[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*subscriber[T]]func() bool)
	b.mu.Unlock()

	for sub, stop := range subs {
		stop()
		_ = sub.Close()
	}
	return nil
}

func (b *MemoryBroadcaster[T]) drop(sub *subscriber[T]) {
	b.mu.Lock()
	stop, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if ok {
		stop()
	}
}
