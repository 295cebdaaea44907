package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/notification-service/migrations"
	"github.com/dmitrymomot/notification-service/pkg/broadcast"
	"github.com/dmitrymomot/notification-service/pkg/config"
	"github.com/dmitrymomot/notification-service/pkg/eventstore"
	"github.com/dmitrymomot/notification-service/pkg/logger"
	"github.com/dmitrymomot/notification-service/pkg/mongo"
	"github.com/dmitrymomot/notification-service/pkg/notifications"
	"github.com/dmitrymomot/notification-service/pkg/pg"
	"github.com/dmitrymomot/notification-service/pkg/redis"
	"github.com/dmitrymomot/notification-service/pkg/registry"
)

// backends holds the storage and signalling dependencies of one instance.
type backends struct {
	events      eventstore.Store
	subscribers registry.SubscriberStore
	bus         broadcast.Broadcaster[notifications.Signal]
	checks      []notifications.ReadinessCheck
	closers     []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackends(ctx context.Context, app appConfig, log *slog.Logger) (*backends, error) {
	b := &backends{}
	if err := b.openStores(ctx, app, log); err != nil {
		return nil, errors.Join(err, b.Close())
	}
	if err := b.openBus(ctx, app, log); err != nil {
		return nil, errors.Join(err, b.Close())
	}
	return b, nil
}

func (b *backends) openStores(ctx context.Context, app appConfig, log *slog.Logger) error {
	storeLog := log.With(logger.Component("eventstore"))

	switch app.StoreDriver {
	case driverMongo:
		var cfg mongo.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		db, err := mongo.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() error {
			return db.Client().Disconnect(context.Background())
		})

		events, err := eventstore.NewMongoStore(ctx, db, eventstore.WithLogger(storeLog))
		if err != nil {
			return err
		}
		subscribers, err := registry.NewMongoSubscriberStore(ctx, db)
		if err != nil {
			return err
		}
		b.events, b.subscribers = events, subscribers
		b.checks = append(b.checks, mongo.Healthcheck(db.Client()))

	case driverPostgres:
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() error {
			pool.Close()
			return nil
		})
		if err := pg.Migrate(ctx, pool, migrations.Postgres, migrations.PostgresDir, cfg, log); err != nil {
			return err
		}

		b.events = eventstore.NewPostgresStore(pool, eventstore.WithLogger(storeLog))
		b.subscribers = registry.NewPostgresSubscriberStore(pool)
		b.checks = append(b.checks, pg.Healthcheck(pool))

	default:
		log.LogAttrs(ctx, slog.LevelWarn, "Using in-memory storage, events are lost on restart")
		b.events = eventstore.NewMemoryStore(eventstore.WithLogger(storeLog))
		b.subscribers = registry.NewMemorySubscriberStore()
	}

	b.checks = append(b.checks, b.subscribers.Ping)
	return nil
}

func (b *backends) openBus(ctx context.Context, app appConfig, log *slog.Logger) error {
	if app.SignalDriver != driverRedis {
		return nil
	}

	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, client.Close)

	bus := broadcast.NewRedisBroadcaster[notifications.Signal](client, app.SignalTopic,
		broadcast.WithLogger(log.With(logger.Component("signal_bus"))),
	)
	b.closers = append(b.closers, bus.Close)
	b.bus = bus
	b.checks = append(b.checks, redis.Healthcheck(client))
	return nil
}
