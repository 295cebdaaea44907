// Command notification-service runs the real-time notification engine:
// the producer API, the WebSocket and SSE gateways and the delivery
// dispatcher.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	api "github.com/dmitrymomot/notification-service/modules/notifications"
	"github.com/dmitrymomot/notification-service/pkg/backpressure"
	"github.com/dmitrymomot/notification-service/pkg/clientip"
	"github.com/dmitrymomot/notification-service/pkg/config"
	"github.com/dmitrymomot/notification-service/pkg/dispatcher"
	"github.com/dmitrymomot/notification-service/pkg/gateway"
	"github.com/dmitrymomot/notification-service/pkg/gateway/sse"
	"github.com/dmitrymomot/notification-service/pkg/gateway/websocket"
	"github.com/dmitrymomot/notification-service/pkg/httpserver"
	"github.com/dmitrymomot/notification-service/pkg/logger"
	"github.com/dmitrymomot/notification-service/pkg/notifications"
	"github.com/dmitrymomot/notification-service/pkg/registry"
	"github.com/dmitrymomot/notification-service/pkg/requestid"
)

const serviceName = "notification-service"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("Service stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var app appConfig
	if err := config.Load(&app); err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(app.Env, serviceName),
		logger.WithContextExtractors(requestid.LoggerExtractor(), clientip.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	var (
		httpCfg     httpserver.Config
		dispatchCfg dispatcher.Config
		retryCfg    backpressure.Config
		wsCfg       websocket.Config
		sseCfg      sse.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&httpCfg) },
		func() error { return config.Load(&dispatchCfg) },
		func() error { return config.Load(&retryCfg) },
		func() error { return config.Load(&wsCfg) },
		func() error { return config.Load(&sseCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	b, err := openBackends(ctx, app, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.LogAttrs(context.Background(), slog.LevelError, "Failed to close backends", logger.Error(err))
		}
	}()

	origin := app.InstanceID
	if origin == "" {
		origin = uuid.NewString()
	}

	reg := registry.New(b.subscribers, registry.WithLogger(log.With(logger.Component("registry"))))
	hub := gateway.NewHub()
	defer func() { _ = hub.Close() }()

	d := dispatcher.New(b.events, reg, hub,
		dispatcher.WithLogger(log.With(logger.Component("dispatcher"))),
		dispatcher.WithConfig(dispatchCfg),
		dispatcher.WithPolicy(retryCfg.Policy()),
	)

	opts := []notifications.ManagerOption{
		notifications.WithManagerLogger(log.With(logger.Component("manager"))),
		notifications.WithOrigin(origin),
	}
	if b.bus != nil {
		opts = append(opts, notifications.WithBus(b.bus))
	}
	for _, check := range b.checks {
		opts = append(opts, notifications.WithReadinessCheck(check))
	}
	manager := notifications.NewManager(b.events, reg, d, opts...)
	defer func() { _ = manager.Close() }()

	router := api.Router(api.RouterOptions{
		Manager: manager,
		WebSocket: websocket.NewServer(hub, manager,
			websocket.WithLogger(log.With(logger.Component("websocket"))),
			websocket.WithConfig(wsCfg),
		),
		SSE: sse.NewServer(hub, manager,
			sse.WithLogger(log.With(logger.Component("sse"))),
			sse.WithConfig(sseCfg),
		),
		Logger:         log,
		AllowedOrigins: app.AllowedOrigins,
		Port:           httpCfg.Port,
	})

	srv := httpserver.NewFromConfig(httpCfg,
		httpserver.WithLogger(log.With(logger.Component("http"))),
		httpserver.WithStartHook(func(l *slog.Logger, addr string) {
			l.Info("HTTP server listening", slog.String("addr", addr))
		}),
		httpserver.WithStopHook(func(l *slog.Logger) {
			l.Info("HTTP server stopped")
		}),
	)

	log.LogAttrs(ctx, slog.LevelInfo, "Starting notification service",
		slog.String("store", app.StoreDriver),
		slog.String("signal", app.SignalDriver),
		slog.String("origin", origin),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(d.Run(ctx))
	g.Go(manager.Run(ctx))
	g.Go(func() error { return srv.Run(ctx, router) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
