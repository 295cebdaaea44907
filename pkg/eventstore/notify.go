package eventstore

import (
	"context"
	"iter"
)

// Hook is invoked after an event has been durably appended.
// Hooks run on the producer's goroutine and must not block.
type Hook func(ctx context.Context, ev Event)

// NotifyingStore wraps a Store and fires hooks after successful appends.
type NotifyingStore struct {
	next  Store
	hooks []Hook
}

// Notifying decorates next with publish hooks. Nil hooks are ignored.
func Notifying(next Store, hooks ...Hook) *NotifyingStore {
	clean := make([]Hook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			clean = append(clean, h)
		}
	}
	return &NotifyingStore{next: next, hooks: clean}
}

func (s *NotifyingStore) Append(ctx context.Context, channel string, payload []byte) (Event, error) {
	ev, err := s.next.Append(ctx, channel, payload)
	if err != nil {
		return Event{}, err
	}
	for _, h := range s.hooks {
		h(ctx, ev)
	}
	return ev, nil
}

func (s *NotifyingStore) ReadFrom(ctx context.Context, channel string, afterSeq uint64) iter.Seq2[Event, error] {
	return s.next.ReadFrom(ctx, channel, afterSeq)
}

func (s *NotifyingStore) Channel(ctx context.Context, id string) (Channel, error) {
	return s.next.Channel(ctx, id)
}

func (s *NotifyingStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}
