package gateway

import (
	"context"
	"sync"

	"github.com/dmitrymomot/notification-service/pkg/eventstore"
)

// Transport pushes one event to one connection. A nil error means the frame
// was accepted for sending, not that the client acknowledged it.
type Transport interface {
	Push(ctx context.Context, connectionID string, ev eventstore.Event) error
}

// Conn is a live session owned by a transport.
type Conn interface {
	ID() string
	// Send queues f for the client without blocking. It returns
	// ErrSlowConsumer when the outbound queue is full and
	// ErrConnectionClosed after Close.
	Send(ctx context.Context, f Frame) error
	Close() error
}

// Hub routes pushes to whichever transport owns the connection.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]Conn)}
}

// Attach registers c. A connection with the same ID is replaced.
func (h *Hub) Attach(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

// Detach forgets the connection. It does not close it.
func (h *Hub) Detach(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connectionID)
}

// Len returns the number of attached connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Push(ctx context.Context, connectionID string, ev eventstore.Event) error {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return ErrConnectionNotFound
	}
	return c.Send(ctx, NewFrame(ev))
}

// Close closes and detaches every connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	clear(h.conns)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}
