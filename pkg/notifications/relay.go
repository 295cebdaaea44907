package notifications

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/notification-service/pkg/broadcast"
	"github.com/dmitrymomot/notification-service/pkg/eventstore"
	"github.com/dmitrymomot/notification-service/pkg/logger"
)

// Signal tells peer instances that something shared changed. Channel is set
// when the channel has new events. Subscriber is set when the subscriber's
// subscriptions changed.
type Signal struct {
	Origin     string `json:"origin"`
	Channel    string `json:"channel,omitempty"`
	Subscriber string `json:"subscriber,omitempty"`
}

// onAppend wakes the local dispatcher and announces the channel to peers.
func (m *Manager) onAppend(ctx context.Context, ev eventstore.Event) {
	m.dispatcher.OnAppend(ctx, ev)
	m.announce(ctx, Signal{Channel: ev.Channel})
}

// announce publishes sig to peers in the background so callers never wait
// on the bus.
func (m *Manager) announce(ctx context.Context, sig Signal) {
	if m.bus == nil {
		return
	}
	sig.Origin = m.origin

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.publishTimeout)
		defer cancel()

		if err := m.bus.Broadcast(ctx, broadcast.Message[Signal]{Data: sig}); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to relay signal",
				logger.Channel(sig.Channel),
				logger.SubscriberID(sig.Subscriber),
				logger.Error(err),
			)
		}
	}()
}

// Run relays signals from peers to the local dispatcher until ctx is done.
// Signals stamped with this instance's origin are ignored.
// The returned function is suitable for errgroup.Group.Go.
func (m *Manager) Run(ctx context.Context) func() error {
	return func() error {
		if m.bus == nil {
			<-ctx.Done()
			return nil
		}

		sub := m.bus.Subscribe(ctx)
		defer func() { _ = sub.Close() }()

		m.logger.LogAttrs(ctx, slog.LevelInfo, "Signal relay started",
			slog.String("origin", m.origin),
		)

		messages := sub.Receive(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-messages:
				if !ok {
					m.logger.LogAttrs(ctx, slog.LevelInfo, "Signal bus closed, relay stopped")
					return nil
				}
				if msg.Data.Origin != m.origin {
					m.apply(ctx, msg.Data)
				}
			}
		}
	}
}

func (m *Manager) apply(ctx context.Context, sig Signal) {
	if sig.Channel != "" {
		m.dispatcher.Notify(sig.Channel)
	}
	if sig.Subscriber == "" {
		return
	}
	if err := m.dispatcher.Refresh(ctx, sig.Subscriber); err != nil {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to refresh subscriber from peer signal",
			logger.SubscriberID(sig.Subscriber),
			logger.Error(err),
		)
	}
}
