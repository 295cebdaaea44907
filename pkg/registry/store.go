package registry

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Subscriber is the durable identity behind one or more connections.
type Subscriber struct {
	ID       string            `json:"id"`
	Channels []string          `json:"channels"`
	Cursors  map[string]uint64 `json:"cursors"`
}

func (s Subscriber) clone() Subscriber {
	return Subscriber{
		ID:       s.ID,
		Channels: slices.Clone(s.Channels),
		Cursors:  maps.Clone(s.Cursors),
	}
}

// SubscriberStore persists subscriptions and cursors.
type SubscriberStore interface {
	// Load returns the stored subscriber. Unknown subscribers are returned
	// empty, not as an error.
	Load(ctx context.Context, subscriberID string) (Subscriber, error)
	AddChannel(ctx context.Context, subscriberID, channel string) error
	RemoveChannel(ctx context.Context, subscriberID, channel string) error
	// SaveCursor stores seq unless the stored cursor is already at or past it.
	SaveCursor(ctx context.Context, subscriberID, channel string, seq uint64) error
	Ping(ctx context.Context) error
}

// MemorySubscriberStore keeps subscriber state in process memory.
type MemorySubscriberStore struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
}

func NewMemorySubscriberStore() *MemorySubscriberStore {
	return &MemorySubscriberStore{subscribers: make(map[string]Subscriber)}
}

func (s *MemorySubscriberStore) Load(_ context.Context, subscriberID string) (Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscribers[subscriberID]
	if !ok {
		return Subscriber{ID: subscriberID, Cursors: map[string]uint64{}}, nil
	}
	return sub.clone(), nil
}

func (s *MemorySubscriberStore) AddChannel(_ context.Context, subscriberID, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.get(subscriberID)
	if !slices.Contains(sub.Channels, channel) {
		sub.Channels = append(sub.Channels, channel)
		slices.Sort(sub.Channels)
	}
	s.subscribers[subscriberID] = sub
	return nil
}

func (s *MemorySubscriberStore) RemoveChannel(_ context.Context, subscriberID, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.get(subscriberID)
	sub.Channels = slices.DeleteFunc(sub.Channels, func(c string) bool { return c == channel })
	s.subscribers[subscriberID] = sub
	return nil
}

func (s *MemorySubscriberStore) SaveCursor(_ context.Context, subscriberID, channel string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.get(subscriberID)
	if seq > sub.Cursors[channel] {
		sub.Cursors[channel] = seq
	}
	s.subscribers[subscriberID] = sub
	return nil
}

func (s *MemorySubscriberStore) Ping(context.Context) error {
	return nil
}

// Must be called with lock held.
func (s *MemorySubscriberStore) get(subscriberID string) Subscriber {
	sub, ok := s.subscribers[subscriberID]
	if !ok {
		sub = Subscriber{ID: subscriberID, Cursors: map[string]uint64{}}
	}
	return sub
}
