package eventstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notification-service/pkg/eventstore"
)

// runStoreSuite checks the behaviour every backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) eventstore.Store) {
	t.Run("append assigns consecutive seq per channel", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ch := uniqueChannel(t, "alerts")
		other := uniqueChannel(t, "billing")

		for i := range 3 {
			ev, err := store.Append(ctx, ch, []byte(fmt.Sprintf(`{"n":%d}`, i)))
			require.NoError(t, err)
			assert.Equal(t, uint64(i+1), ev.Seq)
			assert.Equal(t, ch, ev.Channel)
			assert.False(t, ev.CreatedAt.IsZero())
		}

		ev, err := store.Append(ctx, other, []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), ev.Seq)
	})

	t.Run("invalid channel", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Append(context.Background(), "  ", []byte(`{}`))
		assert.ErrorIs(t, err, eventstore.ErrInvalidChannel)
	})

	t.Run("read from cursor is ordered and restartable", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ch := uniqueChannel(t, "alerts")

		for i := range 7 {
			_, err := store.Append(ctx, ch, []byte(fmt.Sprintf(`{"n":%d}`, i)))
			require.NoError(t, err)
		}

		seq := store.ReadFrom(ctx, ch, 2)
		first, err := eventstore.Collect(seq, 0)
		require.NoError(t, err)
		second, err := eventstore.Collect(seq, 0)
		require.NoError(t, err)

		require.Len(t, first, 5)
		assert.Equal(t, first, second)
		for i, ev := range first {
			assert.Equal(t, uint64(i+3), ev.Seq)
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i+2), string(ev.Payload))
		}

		limited, err := eventstore.Collect(store.ReadFrom(ctx, ch, 0), 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		empty, err := eventstore.Collect(store.ReadFrom(ctx, ch, 7), 0)
		require.NoError(t, err)
		assert.Empty(t, empty)

		unknown, err := eventstore.Collect(store.ReadFrom(ctx, uniqueChannel(t, "missing"), 0), 0)
		require.NoError(t, err)
		assert.Empty(t, unknown)
	})

	t.Run("channel metadata", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ch := uniqueChannel(t, "alerts")

		_, err := store.Channel(ctx, ch)
		assert.ErrorIs(t, err, eventstore.ErrChannelNotFound)

		_, err = store.Append(ctx, ch, []byte(`{}`))
		require.NoError(t, err)

		info, err := store.Channel(ctx, ch)
		require.NoError(t, err)
		assert.Equal(t, ch, info.ID)
		assert.False(t, info.CreatedAt.IsZero())
	})

	t.Run("concurrent appends never skip a seq", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ch := uniqueChannel(t, "alerts")

		const writers, perWriter = 8, 10
		var wg sync.WaitGroup
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range perWriter {
					_, err := store.Append(ctx, ch, []byte(`{}`))
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		events, err := eventstore.Collect(store.ReadFrom(ctx, ch, 0), 0)
		require.NoError(t, err)
		require.Len(t, events, writers*perWriter)
		for i, ev := range events {
			assert.Equal(t, uint64(i+1), ev.Seq)
		}
	})

	t.Run("ping", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping(context.Background()))
	})
}

// Integration backends share one database, so channels are made unique per test.
func uniqueChannel(t *testing.T, prefix string) string {
	return fmt.Sprintf("%s-%s-%d", prefix, t.Name(), time.Now().UnixNano())
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(*testing.T) eventstore.Store {
		return eventstore.NewMemoryStore(eventstore.WithPageSize(3))
	})
}

func TestMemoryStore_PayloadIsCopied(t *testing.T) {
	t.Parallel()
	store := eventstore.NewMemoryStore()
	ctx := context.Background()

	payload := []byte(`{"msg":"disk full"}`)
	_, err := store.Append(ctx, "alerts", payload)
	require.NoError(t, err)
	payload[0] = 'X'

	events, err := eventstore.Collect(store.ReadFrom(ctx, "alerts", 0), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"msg":"disk full"}`, string(events[0].Payload))
}

func TestMemoryStore_WithClock(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store := eventstore.NewMemoryStore(eventstore.WithClock(func() time.Time { return now }))

	ev, err := store.Append(context.Background(), "alerts", nil)
	require.NoError(t, err)
	assert.Equal(t, now, ev.CreatedAt)
}

func TestReadFrom_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	store := eventstore.NewMemoryStore()
	_, err := store.Append(context.Background(), "alerts", []byte(`{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = eventstore.Collect(store.ReadFrom(ctx, "alerts", 0), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNotifying(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var (
		mu    sync.Mutex
		fired []eventstore.Event
	)
	hook := func(_ context.Context, ev eventstore.Event) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, ev)
	}

	store := eventstore.Notifying(eventstore.NewMemoryStore(), hook, nil)

	ev, err := store.Append(ctx, "alerts", []byte(`{"msg":"disk full"}`))
	require.NoError(t, err)

	_, err = store.Append(ctx, "", []byte(`{}`))
	require.ErrorIs(t, err, eventstore.ErrInvalidChannel)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 1, "hooks fire only after a successful append")
	assert.Equal(t, ev, fired[0])

	events, err := eventstore.Collect(store.ReadFrom(ctx, "alerts", 0), 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
