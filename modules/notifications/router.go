package notifications

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/dmitrymomot/notification-service/handler"
	"github.com/dmitrymomot/notification-service/pkg/clientip"
	"github.com/dmitrymomot/notification-service/pkg/httpserver"
	"github.com/dmitrymomot/notification-service/pkg/notifications"
	"github.com/dmitrymomot/notification-service/pkg/requestid"
)

var errNotReady = errors.New("notification engine not ready")

// RouterOptions configures the notification service routes. Transport
// handlers are optional and only mounted when provided.
type RouterOptions struct {
	Manager   *notifications.Manager
	WebSocket http.Handler
	SSE       http.Handler
	Logger    *slog.Logger
	// AllowedOrigins enables CORS for the listed origins; "*" allows any.
	// CORS is off when empty.
	AllowedOrigins []string
	// Port is shown on the health page.
	Port int
}

// Router creates the service router.
//
//	r := notifications.Router(notifications.RouterOptions{
//	    Manager:   manager,
//	    WebSocket: websocket.NewServer(hub, manager),
//	    SSE:       sse.NewServer(hub, manager),
//	    Port:      cfg.HTTP.Port,
//	})
func Router(opts RouterOptions) chi.Router {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	errorHandler := handler.NewErrorHandler(log, MapError)

	r := chi.NewRouter()
	r.Use(requestid.Middleware, clientip.Middleware)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	ready := func(ctx context.Context) error {
		if !opts.Manager.Ready(ctx) {
			return errNotReady
		}
		return nil
	}

	r.Get("/", handler.Wrap(func(ctx handler.Context, _ struct{}) handler.Response {
		return handler.Templ(HealthPage(HealthPageParams{
			Port:  opts.Port,
			Ready: opts.Manager.Ready(ctx),
		}))
	}, handler.ErrorHandlerFor[struct{}](errorHandler)))
	r.Get("/health/live", httpserver.HealthCheckHandler(log))
	r.Get("/health/ready", httpserver.HealthCheckHandler(log, ready))

	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket)
	}
	if opts.SSE != nil {
		r.Handle("/sse", opts.SSE)
	}

	r.Mount("/api/v1", NewAPIService(opts.Manager, errorHandler).Handle())

	return r
}
