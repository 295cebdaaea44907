package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appended struct {
	Channel string
	Seq     uint64
}

func closedWithin(t *testing.T, sub Subscriber[appended]) {
	t.Helper()
	select {
	case _, ok := <-sub.Receive(context.Background()):
		assert.False(t, ok, "subscriber still open")
	case <-time.After(time.Second):
		t.Fatal("subscriber was not closed")
	}
}

func TestMemoryBroadcaster_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("cancelled context removes the subscriber", func(t *testing.T) {
		t.Parallel()
		b := NewMemoryBroadcaster[appended](4)
		t.Cleanup(func() { _ = b.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		sub := b.Subscribe(ctx)
		require.Equal(t, 1, b.Len())

		cancel()
		closedWithin(t, sub)
		require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("closing a subscriber twice is fine", func(t *testing.T) {
		t.Parallel()
		b := NewMemoryBroadcaster[appended](4)
		t.Cleanup(func() { _ = b.Close() })

		sub := b.Subscribe(context.Background())
		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
		assert.Equal(t, 0, b.Len())
	})

	t.Run("close ends every subscriber and refuses new work", func(t *testing.T) {
		t.Parallel()
		b := NewMemoryBroadcaster[appended](4)
		a, c := b.Subscribe(context.Background()), b.Subscribe(context.Background())

		require.NoError(t, b.Close())
		require.NoError(t, b.Close())
		closedWithin(t, a)
		closedWithin(t, c)

		closedWithin(t, b.Subscribe(context.Background()))
		assert.ErrorIs(t, b.Broadcast(context.Background(), Message[appended]{}), ErrBroadcasterClosed)
	})
}

func TestMemoryBroadcaster_Delivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("every subscriber gets the signal", func(t *testing.T) {
		t.Parallel()
		b := NewMemoryBroadcaster[appended](4)
		t.Cleanup(func() { _ = b.Close() })

		subs := []Subscriber[appended]{b.Subscribe(ctx), b.Subscribe(ctx), b.Subscribe(ctx)}
		require.NoError(t, b.Broadcast(ctx, Message[appended]{Data: appended{Channel: "alerts", Seq: 7}}))

		for _, sub := range subs {
			select {
			case msg := <-sub.Receive(ctx):
				assert.Equal(t, appended{Channel: "alerts", Seq: 7}, msg.Data)
			case <-time.After(time.Second):
				t.Fatal("signal not delivered")
			}
		}
	})

	t.Run("full buffer drops without unsubscribing", func(t *testing.T) {
		t.Parallel()
		b := NewMemoryBroadcaster[appended](1)
		t.Cleanup(func() { _ = b.Close() })
		sub := b.Subscribe(ctx)

		for seq := uint64(1); seq <= 5; seq++ {
			require.NoError(t, b.Broadcast(ctx, Message[appended]{Data: appended{Seq: seq}}))
		}
		assert.Equal(t, uint64(1), (<-sub.Receive(ctx)).Data.Seq)
		assert.Equal(t, uint64(4), sub.(*subscriber[appended]).Dropped())

		require.NoError(t, b.Broadcast(ctx, Message[appended]{Data: appended{Seq: 6}}))
		assert.Equal(t, uint64(6), (<-sub.Receive(ctx)).Data.Seq)
	})

	t.Run("concurrent publishers", func(t *testing.T) {
		t.Parallel()
		b := NewMemoryBroadcaster[appended](256)
		t.Cleanup(func() { _ = b.Close() })
		sub := b.Subscribe(ctx)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for seq := range uint64(32) {
					assert.NoError(t, b.Broadcast(ctx, Message[appended]{Data: appended{Seq: seq}}))
				}
			}()
		}
		wg.Wait()
		assert.Len(t, sub.Receive(ctx), 256)
	})
}
