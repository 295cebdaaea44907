package notifications_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notification-service/pkg/backpressure"
	"github.com/dmitrymomot/notification-service/pkg/broadcast"
	"github.com/dmitrymomot/notification-service/pkg/dispatcher"
	"github.com/dmitrymomot/notification-service/pkg/eventstore"
	"github.com/dmitrymomot/notification-service/pkg/gateway"
	"github.com/dmitrymomot/notification-service/pkg/logger"
	"github.com/dmitrymomot/notification-service/pkg/notifications"
	"github.com/dmitrymomot/notification-service/pkg/registry"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// recorder records pushes without acknowledging them.
type recorder struct {
	mu     sync.Mutex
	pushes []eventstore.Event
}

func (r *recorder) Push(_ context.Context, _ string, ev eventstore.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, ev)
	return nil
}

func (r *recorder) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.pushes))
	for _, ev := range r.pushes {
		out = append(out, ev.Seq)
	}
	return out
}

type instance struct {
	manager    *notifications.Manager
	dispatcher *dispatcher.Dispatcher
	registry   *registry.Registry
	transport  *recorder
}

func newInstance(t *testing.T, store eventstore.Store, opts ...notifications.ManagerOption) *instance {
	t.Helper()
	return newPeer(t, store, registry.NewMemorySubscriberStore(), opts...)
}

// newPeer builds one instance of a deployment whose instances share the
// event log and the subscriber store.
func newPeer(t *testing.T, store eventstore.Store, subs registry.SubscriberStore, opts ...notifications.ManagerOption) *instance {
	t.Helper()

	reg := registry.New(subs, registry.WithLogger(logger.Discard()))
	tr := &recorder{}
	d := dispatcher.New(store, reg, tr,
		dispatcher.WithLogger(logger.Discard()),
		dispatcher.WithAckTimeout(time.Second),
	)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })

	opts = append([]notifications.ManagerOption{notifications.WithManagerLogger(logger.Discard())}, opts...)
	m := notifications.NewManager(store, reg, d, opts...)
	t.Cleanup(func() { _ = m.Close() })

	return &instance{manager: m, dispatcher: d, registry: reg, transport: tr}
}

func (i *instance) connect(t *testing.T, conn, sub string, channels ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, i.dispatcher.Handle(ctx, gateway.Connected{ConnectionID: conn, SubscriberID: sub}))
	for _, ch := range channels {
		require.NoError(t, i.manager.Subscribe(ctx, sub, ch))
	}
}

func TestManager_PublishDeliversAndAcknowledges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in := newInstance(t, eventstore.NewMemoryStore())
	in.connect(t, "c1", "u1", "alerts")

	ev, err := in.manager.Publish(ctx, "alerts", []byte(`{"msg":"disk full"}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq)

	require.Eventually(t, func() bool {
		return len(in.transport.seqs()) == 1
	}, waitFor, tick)

	require.NoError(t, in.manager.Acknowledge(ctx, "c1", "alerts", 1))
	require.Eventually(t, func() bool {
		c, err := in.registry.Cursor(ctx, "u1", "alerts")
		return err == nil && c == 1
	}, waitFor, tick)
}

type failingStore struct {
	eventstore.Store
}

func (failingStore) Append(context.Context, string, []byte) (eventstore.Event, error) {
	return eventstore.Event{}, errors.Join(eventstore.ErrStoreUnavailable, errors.New("connection refused"))
}

func (failingStore) Ping(context.Context) error {
	return eventstore.ErrStoreUnavailable
}

func TestManager_PublishStoreUnavailable(t *testing.T) {
	t.Parallel()
	in := newInstance(t, failingStore{Store: eventstore.NewMemoryStore()})

	_, err := in.manager.Publish(context.Background(), "alerts", []byte(`{}`))
	require.ErrorIs(t, err, eventstore.ErrStoreUnavailable)
	assert.False(t, in.manager.Ready(context.Background()))
}

func TestManager_Events(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in := newInstance(t, eventstore.NewMemoryStore())

	for range 5 {
		_, err := in.manager.Publish(ctx, "alerts", []byte(`{}`))
		require.NoError(t, err)
	}

	events, err := in.manager.Events(ctx, "alerts", 2, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(3), events[0].Seq)
	assert.Equal(t, uint64(4), events[1].Seq)

	events, err = in.manager.Events(ctx, "alerts", 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 5)

	_, err = in.manager.Events(ctx, "alerts", 0, -1)
	require.ErrorIs(t, err, notifications.ErrInvalidLimit)

	_, err = in.manager.Events(ctx, "missing", 0, 0)
	require.ErrorIs(t, err, eventstore.ErrChannelNotFound)
}

func TestManager_Status(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in := newInstance(t, eventstore.NewMemoryStore())
	in.connect(t, "c1", "u1", "alerts", "billing")

	_, err := in.manager.Publish(ctx, "alerts", []byte(`{}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(in.transport.seqs()) == 1 }, waitFor, tick)
	require.NoError(t, in.manager.Acknowledge(ctx, "c1", "alerts", 1))

	require.Eventually(t, func() bool {
		st, err := in.manager.Status(ctx, "u1")
		return err == nil && len(st.Channels) == 2 && st.Channels[0].Cursor == 1
	}, waitFor, tick)

	st, err := in.manager.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", st.ID)
	assert.True(t, st.Online)
	assert.Equal(t, []string{"c1"}, st.Connections)
	assert.Equal(t, "alerts", st.Channels[0].Channel)
	assert.Equal(t, "billing", st.Channels[1].Channel)
	assert.Equal(t, uint64(0), st.Channels[1].Cursor)
	assert.Equal(t, backpressure.StateIdle, st.Channels[1].State)

	require.NoError(t, in.manager.Unsubscribe(ctx, "u1", "billing"))
	st, err = in.manager.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, st.Channels, 1)

	_, err = in.manager.Status(ctx, "")
	require.ErrorIs(t, err, registry.ErrInvalidSubscriber)
}

func TestManager_Ready(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	in := newInstance(t, eventstore.NewMemoryStore())
	assert.True(t, in.manager.Ready(ctx))

	down := newInstance(t, eventstore.NewMemoryStore(),
		notifications.WithReadinessCheck(func(context.Context) error { return errors.New("redis down") }),
	)
	assert.False(t, down.manager.Ready(ctx))
}

func TestManager_RelaysAppendsToPeers(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := eventstore.NewMemoryStore()
	bus := broadcast.NewMemoryBroadcaster[notifications.Signal](16)
	t.Cleanup(func() { _ = bus.Close() })

	a := newInstance(t, store, notifications.WithBus(bus), notifications.WithOrigin("a"))
	b := newInstance(t, store, notifications.WithBus(bus), notifications.WithOrigin("b"))
	assert.Equal(t, "a", a.manager.Origin())

	errs := make(chan error, 2)
	go func() { errs <- a.manager.Run(ctx)() }()
	go func() { errs <- b.manager.Run(ctx)() }()
	require.Eventually(t, func() bool { return bus.Len() == 2 }, waitFor, tick)

	b.connect(t, "c1", "u1", "alerts")

	_, err := a.manager.Publish(ctx, "alerts", []byte(`{"msg":"hello"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]uint64{1}, b.transport.seqs())
	}, waitFor, tick)
	assert.Empty(t, a.transport.seqs())

	cancel()
	for range 2 {
		require.NoError(t, <-errs)
	}
}

func TestManager_RelaysSubscriptionChangesToPeers(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := eventstore.NewMemoryStore()
	subs := registry.NewMemorySubscriberStore()
	bus := broadcast.NewMemoryBroadcaster[notifications.Signal](16)
	t.Cleanup(func() { _ = bus.Close() })

	a := newPeer(t, store, subs, notifications.WithBus(bus), notifications.WithOrigin("a"))
	b := newPeer(t, store, subs, notifications.WithBus(bus), notifications.WithOrigin("b"))

	errs := make(chan error, 2)
	go func() { errs <- a.manager.Run(ctx)() }()
	go func() { errs <- b.manager.Run(ctx)() }()
	require.Eventually(t, func() bool { return bus.Len() == 2 }, waitFor, tick)

	// u1's only connection lives on b; the subscription is made through a.
	b.connect(t, "c1", "u1")
	require.NoError(t, a.manager.Subscribe(ctx, "u1", "billing"))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"c1"}, b.registry.LiveConnectionsFor("billing"))
	}, waitFor, tick)

	_, err := a.manager.Publish(ctx, "billing", []byte(`{"invoice":42}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]uint64{1}, b.transport.seqs())
	}, waitFor, tick)

	// A subscription change sent over b's connection reaches a's view too.
	require.NoError(t, b.manager.Handle(ctx, gateway.Unsubscribed{ConnectionID: "c1", Channel: "billing"}))
	require.NoError(t, a.manager.Handle(ctx, gateway.Connected{ConnectionID: "c2", SubscriberID: "u1"}))
	require.NoError(t, b.manager.Handle(ctx, gateway.Subscribed{ConnectionID: "c1", Channel: "alerts"}))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"c2"}, a.registry.LiveConnectionsFor("alerts")) &&
			len(a.registry.LiveConnectionsFor("billing")) == 0
	}, waitFor, tick)

	err = a.manager.Handle(ctx, gateway.Subscribed{ConnectionID: "nope", Channel: "alerts"})
	assert.ErrorIs(t, err, registry.ErrNotBound)

	cancel()
	for range 2 {
		require.NoError(t, <-errs)
	}
}

func TestManager_RunWithoutBus(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	in := newInstance(t, eventstore.NewMemoryStore())

	done := make(chan error, 1)
	go func() { done <- in.manager.Run(ctx)() }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("relay did not stop")
	}
}
