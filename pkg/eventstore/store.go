package eventstore

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"
)

// Channel is a named, ordered stream of events.
type Channel struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is an immutable notification record. Seq is assigned by the store.
type Event struct {
	Channel   string    `json:"channel"`
	Seq       uint64    `json:"seq"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable append-only event log.
type Store interface {
	// Append persists payload as the next event of channel and returns it
	// with its assigned sequence number.
	Append(ctx context.Context, channel string, payload []byte) (Event, error)

	// ReadFrom yields every event of channel with Seq > afterSeq in
	// ascending order. Errors are yielded as the second value and end the
	// iteration.
	ReadFrom(ctx context.Context, channel string, afterSeq uint64) iter.Seq2[Event, error]

	// Channel returns channel metadata or ErrChannelNotFound.
	Channel(ctx context.Context, id string) (Channel, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

const defaultPageSize = 100

// Option configures a store backend.
type Option func(*storeOptions)

type storeOptions struct {
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

func newOptions(opts ...Option) storeOptions {
	o := storeOptions{
		pageSize: defaultPageSize,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPageSize sets how many events a backend loads per round trip.
func WithPageSize(size int) Option {
	return func(o *storeOptions) {
		if size > 0 {
			o.pageSize = size
		}
	}
}

// WithLogger sets the logger used for backend diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *storeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func validateChannel(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidChannel
	}
	return nil
}

// pageLoader returns up to limit events with Seq > after, ascending.
type pageLoader func(ctx context.Context, after uint64, limit int) ([]Event, error)

// paginate adapts a page loader into a lazy sequence. The cursor is copied on
// every pass so the sequence can be iterated again from the start.
func paginate(ctx context.Context, afterSeq uint64, size int, load pageLoader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		cursor := afterSeq
		for {
			if err := ctx.Err(); err != nil {
				yield(Event{}, err)
				return
			}

			page, err := load(ctx, cursor, size)
			if err != nil {
				yield(Event{}, err)
				return
			}

			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
				cursor = ev.Seq
			}

			if len(page) < size {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping after limit events when limit > 0.
func Collect(seq iter.Seq2[Event, error], limit int) ([]Event, error) {
	events := make([]Event, 0)
	for ev, err := range seq {
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}
