package backpressure

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notification-service/pkg/eventstore"
	"github.com/dmitrymomot/notification-service/pkg/logger"
)

func TestPolicyDelay(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, MaxAttempts: 10, Jitter: 0.5}.normalized()

	t.Run("bounds without randomness", func(t *testing.T) {
		t.Parallel()
		lowest := func() float64 { return 0 }
		highest := func() float64 { return 1 }

		assert.Equal(t, 75*time.Millisecond, p.delay(1, lowest))
		assert.Equal(t, 100*time.Millisecond, p.delay(1, highest))
		assert.Equal(t, 150*time.Millisecond, p.delay(2, lowest))
		assert.Equal(t, 200*time.Millisecond, p.delay(2, highest))
	})

	t.Run("capped attempts keep a jitter band", func(t *testing.T) {
		t.Parallel()
		lowest := func() float64 { return 0 }
		// The last ceiling below the 2s cap is 1.6s: band [1.8s, 2s].
		for _, attempt := range []int{6, 7, 10, 64, 1000} {
			assert.Equal(t, 1800*time.Millisecond, p.delay(attempt, lowest), "attempt %d", attempt)
			d := p.delay(attempt, rand.Float64)
			assert.GreaterOrEqual(t, d, 1800*time.Millisecond, "attempt %d", attempt)
			assert.LessOrEqual(t, d, 2*time.Second, "attempt %d", attempt)
		}

		seen := make(map[time.Duration]struct{})
		for range 50 {
			seen[p.Delay(20)] = struct{}{}
		}
		assert.Greater(t, len(seen), 1, "capped streams must not retry in lockstep")
	})

	t.Run("base at the cap still spreads", func(t *testing.T) {
		t.Parallel()
		flat := Policy{BaseDelay: time.Second, MaxDelay: time.Second, Jitter: 0.5}.normalized()
		assert.Equal(t, 750*time.Millisecond, flat.delay(3, func() float64 { return 0 }))
	})

	t.Run("non-decreasing until the cap", func(t *testing.T) {
		t.Parallel()
		for range 200 {
			prev := time.Duration(0)
			for attempt := 1; attempt <= 6; attempt++ {
				d := p.Delay(attempt)
				require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
				require.LessOrEqual(t, d, p.MaxDelay)
				prev = d
			}
		}
	})

	t.Run("no jitter is deterministic", func(t *testing.T) {
		t.Parallel()
		exact := Policy{BaseDelay: time.Second, MaxDelay: 8 * time.Second, Jitter: 0}.normalized()
		assert.Equal(t, time.Second, exact.Delay(1))
		assert.Equal(t, 2*time.Second, exact.Delay(2))
		assert.Equal(t, 4*time.Second, exact.Delay(3))
		assert.Equal(t, 8*time.Second, exact.Delay(4))
		assert.Equal(t, 8*time.Second, exact.Delay(5))
	})

	t.Run("zero policy falls back to defaults", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, DefaultPolicy(), Policy{Jitter: 0.5}.normalized())
	})
}

func newTestController(policy Policy, retries chan StreamKey) *Controller {
	return New(policy,
		WithLogger(logger.Discard()),
		WithRetryFunc(func(key StreamKey) { retries <- key }),
	)
}

func TestController(t *testing.T) {
	t.Parallel()

	key := StreamKey{Subscriber: "alice", Channel: "orders"}
	ev := eventstore.Event{Channel: "orders", Seq: 1}
	boom := errors.New("boom")

	t.Run("one push in flight", func(t *testing.T) {
		t.Parallel()
		c := newTestController(DefaultPolicy(), make(chan StreamKey, 1))

		require.True(t, c.TryBegin(key))
		assert.False(t, c.TryBegin(key), "second begin must be rejected while delivering")
		assert.True(t, c.Active(key))

		c.Finish(key)
		assert.Equal(t, StateIdle, c.Status(key).State)
		assert.True(t, c.TryBegin(key))
	})

	t.Run("failure schedules retry", func(t *testing.T) {
		t.Parallel()
		retries := make(chan StreamKey, 1)
		c := newTestController(Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond, MaxAttempts: 3}, retries)

		require.True(t, c.TryBegin(key))
		assert.Equal(t, StateWaiting, c.Failed(key, ev, boom))

		st := c.Status(key)
		assert.Equal(t, 1, st.Attempt.Attempts)
		assert.Equal(t, ev, st.Attempt.Event)
		assert.ErrorIs(t, st.Attempt.LastError, boom)
		assert.False(t, st.Attempt.NextRetry.IsZero())

		select {
		case got := <-retries:
			assert.Equal(t, key, got)
		case <-time.After(time.Second):
			require.Fail(t, "retry callback not invoked")
		}
		assert.True(t, c.TryBegin(key), "retry is due")
	})

	t.Run("begin rejected before retry is due", func(t *testing.T) {
		t.Parallel()
		c := newTestController(Policy{BaseDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 3}, make(chan StreamKey, 1))
		defer c.Close()

		require.True(t, c.TryBegin(key))
		c.Failed(key, ev, boom)
		assert.False(t, c.TryBegin(key))
	})

	t.Run("exhaustion suspends", func(t *testing.T) {
		t.Parallel()
		retries := make(chan StreamKey, 4)
		c := newTestController(Policy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3}, retries)

		for attempt := 1; attempt <= 3; attempt++ {
			require.Eventually(t, func() bool { return c.TryBegin(key) }, time.Second, time.Millisecond)
			c.Failed(key, ev, boom)
		}

		st := c.Status(key)
		assert.Equal(t, StateSuspended, st.State)
		assert.Equal(t, 3, st.Attempt.Attempts)
		assert.ErrorIs(t, st.Attempt.LastError, ErrRetryExhausted)
		assert.ErrorIs(t, st.Attempt.LastError, boom)
		assert.False(t, c.TryBegin(key))
	})

	t.Run("success resets failure count", func(t *testing.T) {
		t.Parallel()
		c := newTestController(Policy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 2}, make(chan StreamKey, 4))

		require.True(t, c.TryBegin(key))
		c.Failed(key, ev, boom)
		require.Eventually(t, func() bool { return c.TryBegin(key) }, time.Second, time.Millisecond)
		c.Succeeded(key)
		assert.Equal(t, 0, c.Status(key).Attempt.Attempts)

		assert.Equal(t, StateWaiting, c.Failed(key, ev, boom), "count restarted after success")
	})

	t.Run("suspend and resume", func(t *testing.T) {
		t.Parallel()
		c := newTestController(Policy{BaseDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 5}, make(chan StreamKey, 1))
		other := StreamKey{Subscriber: "alice", Channel: "billing"}
		stranger := StreamKey{Subscriber: "bob", Channel: "orders"}

		require.True(t, c.TryBegin(key))
		c.Failed(key, ev, boom)
		require.True(t, c.TryBegin(other))
		require.True(t, c.TryBegin(stranger))

		c.Suspend("alice")
		assert.Equal(t, StateSuspended, c.Status(key).State)
		assert.Equal(t, StateSuspended, c.Status(other).State)
		assert.Equal(t, StateDelivering, c.Status(stranger).State)

		// A late failure report from the cancelled push is ignored.
		assert.Equal(t, StateSuspended, c.Failed(other, ev, boom))

		resumed := c.Resume("alice")
		assert.ElementsMatch(t, []StreamKey{key, other}, resumed)
		assert.Equal(t, StateIdle, c.Status(key).State)
		assert.Equal(t, 0, c.Status(key).Attempt.Attempts)
		assert.True(t, c.TryBegin(key))
	})

	t.Run("streams and forget", func(t *testing.T) {
		t.Parallel()
		c := newTestController(DefaultPolicy(), make(chan StreamKey, 1))

		c.TryBegin(StreamKey{Subscriber: "alice", Channel: "b"})
		c.TryBegin(StreamKey{Subscriber: "alice", Channel: "a"})
		c.TryBegin(StreamKey{Subscriber: "bob", Channel: "a"})

		streams := c.Streams("alice")
		require.Len(t, streams, 2)
		assert.Equal(t, "a", streams[0].Key.Channel)
		assert.Equal(t, "b", streams[1].Key.Channel)

		c.Forget(StreamKey{Subscriber: "alice", Channel: "a"})
		assert.Len(t, c.Streams("alice"), 1)
		assert.Equal(t, StateIdle, c.Status(StreamKey{Subscriber: "alice", Channel: "a"}).State)
	})

	t.Run("closed controller rejects begin", func(t *testing.T) {
		t.Parallel()
		c := newTestController(DefaultPolicy(), make(chan StreamKey, 1))
		c.Close()
		assert.False(t, c.TryBegin(key))
	})
}
