package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/notification-service/pkg/logger"
)

// HealthCheckHandler serves a probe. Without checks it is a liveness probe
// answering "ALIVE". With checks it is a readiness probe: the checks run
// concurrently and any failure answers 503 "NOT_READY", otherwise "READY".
func HealthCheckHandler(log *slog.Logger, checks ...func(context.Context) error) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, "ALIVE"
		if len(checks) > 0 {
			body = "READY"
			if err := runChecks(r.Context(), checks); err != nil {
				log.LogAttrs(r.Context(), slog.LevelError, "Readiness check failed", logger.Error(err))
				status, body = http.StatusServiceUnavailable, "NOT_READY"
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func runChecks(ctx context.Context, checks []func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, check := range checks {
		g.Go(func() error { return check(ctx) })
	}
	return g.Wait()
}
