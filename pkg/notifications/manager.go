package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notification-service/pkg/broadcast"
	"github.com/dmitrymomot/notification-service/pkg/dispatcher"
	"github.com/dmitrymomot/notification-service/pkg/eventstore"
	"github.com/dmitrymomot/notification-service/pkg/gateway"
	"github.com/dmitrymomot/notification-service/pkg/logger"
	"github.com/dmitrymomot/notification-service/pkg/registry"
)

const (
	// DefaultEventsLimit caps catch-up reads that do not ask for a limit.
	DefaultEventsLimit = 100
	// MaxEventsLimit is the largest page Events returns.
	MaxEventsLimit = 1000

	defaultPublishTimeout = 2 * time.Second
)

// Manager orchestrates the event store, registry and dispatcher.
type Manager struct {
	store      eventstore.Store
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	bus        broadcast.Broadcaster[Signal]
	origin     string
	logger     *slog.Logger

	publishTimeout time.Duration
	checks         []ReadinessCheck
	wg             sync.WaitGroup
}

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the Manager.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBus relays append and subscription signals to peer instances through bus.
func WithBus(bus broadcast.Broadcaster[Signal]) ManagerOption {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithOrigin sets the instance identity stamped on bus signals.
// Defaults to a random UUID.
func WithOrigin(origin string) ManagerOption {
	return func(m *Manager) {
		if origin != "" {
			m.origin = origin
		}
	}
}

// WithPublishTimeout bounds how long a bus publish may take.
func WithPublishTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.publishTimeout = d
		}
	}
}

// WithReadinessCheck adds a dependency to Ready.
func WithReadinessCheck(check ReadinessCheck) ManagerOption {
	return func(m *Manager) {
		if check != nil {
			m.checks = append(m.checks, check)
		}
	}
}

// NewManager creates a notification manager. Appends made through the
// manager wake d, and peers on the bus when one is configured.
func NewManager(store eventstore.Store, reg *registry.Registry, d *dispatcher.Dispatcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:       reg,
		dispatcher:     d,
		origin:         uuid.NewString(),
		logger:         slog.Default(),
		publishTimeout: defaultPublishTimeout,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.store = eventstore.Notifying(store, m.onAppend)
	return m
}

// Store returns the notifying store. Appends made through it are delivered
// exactly like Publish.
func (m *Manager) Store() eventstore.Store {
	return m.store
}

// Origin returns the identity this instance stamps on bus signals.
func (m *Manager) Origin() string {
	return m.origin
}

// Publish durably appends payload to channel and wakes delivery.
// Store failures are returned; delivery failures never are.
func (m *Manager) Publish(ctx context.Context, channel string, payload []byte) (eventstore.Event, error) {
	ev, err := m.store.Append(ctx, channel, payload)
	if err != nil {
		m.logger.LogAttrs(ctx, slog.LevelError, "Failed to publish notification",
			logger.Channel(channel),
			logger.Error(err),
		)
		return eventstore.Event{}, err
	}

	m.logger.LogAttrs(ctx, slog.LevelDebug, "Notification published",
		logger.Channel(ev.Channel),
		logger.Seq(ev.Seq),
	)
	return ev, nil
}

// Events returns up to limit events of channel after seq.
// A zero limit means DefaultEventsLimit.
func (m *Manager) Events(ctx context.Context, channel string, after uint64, limit int) ([]eventstore.Event, error) {
	switch {
	case limit < 0:
		return nil, ErrInvalidLimit
	case limit == 0:
		limit = DefaultEventsLimit
	case limit > MaxEventsLimit:
		limit = MaxEventsLimit
	}
	if _, err := m.store.Channel(ctx, channel); err != nil {
		return nil, err
	}
	return eventstore.Collect(m.store.ReadFrom(ctx, channel, after), limit)
}

// Channel returns channel metadata.
func (m *Manager) Channel(ctx context.Context, id string) (eventstore.Channel, error) {
	return m.store.Channel(ctx, id)
}

// Subscribe adds channel to the subscriber and starts delivery. Peers
// holding the subscriber's other connections are told to reload.
func (m *Manager) Subscribe(ctx context.Context, subscriberID, channel string) error {
	if err := m.dispatcher.Subscribe(ctx, subscriberID, channel); err != nil {
		return err
	}
	m.announce(ctx, Signal{Subscriber: subscriberID})
	return nil
}

// Unsubscribe removes channel from the subscriber and tells peers.
func (m *Manager) Unsubscribe(ctx context.Context, subscriberID, channel string) error {
	if err := m.dispatcher.Unsubscribe(ctx, subscriberID, channel); err != nil {
		return err
	}
	m.announce(ctx, Signal{Subscriber: subscriberID})
	return nil
}

// Handle is the gateway.Handler for transports. Subscription changes made
// over a connection go through Subscribe and Unsubscribe so peers hear of
// them; every other signal goes straight to the dispatcher.
func (m *Manager) Handle(ctx context.Context, sig gateway.Signal) error {
	switch s := sig.(type) {
	case gateway.Subscribed:
		sub, ok := m.registry.SubscriberOf(s.ConnectionID)
		if !ok {
			return registry.ErrNotBound
		}
		return m.Subscribe(ctx, sub, s.Channel)
	case gateway.Unsubscribed:
		sub, ok := m.registry.SubscriberOf(s.ConnectionID)
		if !ok {
			return registry.ErrNotBound
		}
		return m.Unsubscribe(ctx, sub, s.Channel)
	default:
		return m.dispatcher.Handle(ctx, sig)
	}
}

// Acknowledge reports that connectionID has processed channel up to seq.
func (m *Manager) Acknowledge(ctx context.Context, connectionID, channel string, seq uint64) error {
	return m.dispatcher.Handle(ctx, gateway.Acknowledged{
		ConnectionID: connectionID,
		Channel:      channel,
		Seq:          seq,
	})
}

// Resume lifts the suspension of the subscriber behind connectionID.
func (m *Manager) Resume(ctx context.Context, connectionID string) error {
	return m.dispatcher.Handle(ctx, gateway.Resumed{ConnectionID: connectionID})
}

// Ready reports whether the event store and every registered dependency
// are reachable.
func (m *Manager) Ready(ctx context.Context) bool {
	if err := m.store.Ping(ctx); err != nil {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "Event store not ready", logger.Error(err))
		return false
	}
	for _, check := range m.checks {
		if err := check(ctx); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelWarn, "Dependency not ready", logger.Error(err))
			return false
		}
	}
	return true
}

// Close waits for in-flight bus publishes.
func (m *Manager) Close() error {
	m.wg.Wait()
	return nil
}
