package eventstore

import (
	"context"
	"iter"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store. Appends are serialized per channel;
// different channels append in parallel.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[string]*memoryChannel
	opts     storeOptions
}

type memoryChannel struct {
	mu     sync.RWMutex
	info   Channel
	events []Event
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		channels: make(map[string]*memoryChannel),
		opts:     newOptions(opts...),
	}
}

func (s *MemoryStore) Append(ctx context.Context, channel string, payload []byte) (Event, error) {
	if err := validateChannel(channel); err != nil {
		return Event{}, err
	}
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}

	ch := s.channel(channel, true)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	ev := Event{
		Channel:   channel,
		Seq:       uint64(len(ch.events)) + 1,
		Payload:   slices.Clone(payload),
		CreatedAt: s.opts.now(),
	}
	ch.events = append(ch.events, ev)

	return ev, nil
}

func (s *MemoryStore) ReadFrom(ctx context.Context, channel string, afterSeq uint64) iter.Seq2[Event, error] {
	return paginate(ctx, afterSeq, s.opts.pageSize, func(_ context.Context, after uint64, limit int) ([]Event, error) {
		ch := s.channel(channel, false)
		if ch == nil {
			return nil, nil
		}

		ch.mu.RLock()
		defer ch.mu.RUnlock()

		// Seq n lives at index n-1.
		if after >= uint64(len(ch.events)) {
			return nil, nil
		}
		end := min(after+uint64(limit), uint64(len(ch.events)))
		return slices.Clone(ch.events[after:end]), nil
	})
}

func (s *MemoryStore) Channel(_ context.Context, id string) (Channel, error) {
	ch := s.channel(id, false)
	if ch == nil {
		return Channel{}, ErrChannelNotFound
	}
	return ch.info, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) channel(id string, create bool) *memoryChannel {
	s.mu.RLock()
	ch, ok := s.channels[id]
	s.mu.RUnlock()
	if ok || !create {
		return ch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok = s.channels[id]; ok {
		return ch
	}
	ch = &memoryChannel{info: Channel{ID: id, CreatedAt: s.opts.now()}}
	s.channels[id] = ch
	return ch
}
