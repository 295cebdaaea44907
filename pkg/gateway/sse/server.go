// Package sse binds the notification gateway to Server-Sent Events using the
// Datastar SDK.
//
//	GET /sse?subscriber_id=u1&channel=alerts
//
// The first signal patch carries the connection ID. Each event then arrives
// as a patch of the "notification" signal holding a gateway.Frame. SSE is
// one-way, so clients acknowledge and resume through the HTTP API using
// that connection ID.
package sse

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/dmitrymomot/notification-service/pkg/gateway"
	"github.com/dmitrymomot/notification-service/pkg/logger"
)

// Config is populated from the environment.
type Config struct {
	QueueSize     int           `env:"SSE_QUEUE_SIZE" envDefault:"64"`         // QueueSize is the outbound frame buffer per connection.
	SlowThreshold int           `env:"SSE_SLOW_THRESHOLD" envDefault:"64"`     // SlowThreshold is the queue depth at which pushes are refused.
	Heartbeat     time.Duration `env:"SSE_HEARTBEAT_INTERVAL" envDefault:"25s"` // Heartbeat keeps idle proxies from closing the stream.
}

// Server is an http.Handler streaming notifications over SSE.
type Server struct {
	hub     *gateway.Hub
	handler gateway.Handler
	cfg     Config
	logger  *slog.Logger
	newID   func() string
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConfig replaces the default configuration. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Server) {
		if cfg.QueueSize > 0 {
			s.cfg.QueueSize = cfg.QueueSize
		}
		if cfg.SlowThreshold > 0 {
			s.cfg.SlowThreshold = cfg.SlowThreshold
		}
		if cfg.Heartbeat > 0 {
			s.cfg.Heartbeat = cfg.Heartbeat
		}
	}
}

// WithIDGenerator overrides how connection IDs are minted.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func NewServer(hub *gateway.Hub, handler gateway.Handler, opts ...Option) *Server {
	s := &Server{
		hub:     hub,
		handler: handler,
		cfg: Config{
			QueueSize:     gateway.DefaultQueueSize,
			SlowThreshold: gateway.DefaultQueueSize,
			Heartbeat:     25 * time.Second,
		},
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type conn struct {
	id    string
	queue *gateway.Queue
}

func (c *conn) ID() string {
	return c.id
}

func (c *conn) Send(ctx context.Context, f gateway.Frame) error {
	return c.queue.Enqueue(ctx, f)
}

func (c *conn) Close() error {
	c.queue.Close()
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subscriberID := strings.TrimSpace(r.URL.Query().Get("subscriber_id"))
	if subscriberID == "" {
		http.Error(w, "subscriber_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	c := &conn{id: s.newID(), queue: gateway.NewQueue(s.cfg.QueueSize, s.cfg.SlowThreshold)}
	log := s.logger.With(logger.ConnectionID(c.id), logger.SubscriberID(subscriberID))

	stream := datastar.NewSSE(w, r)
	if err := patch(stream, "connection_id", c.id); err != nil {
		return
	}

	s.hub.Attach(c)
	defer func() {
		s.hub.Detach(c.id)
		_ = c.Close()
	}()

	if err := s.handler.Handle(ctx, gateway.Connected{ConnectionID: c.id, SubscriberID: subscriberID}); err != nil {
		log.LogAttrs(ctx, slog.LevelWarn, "Connection rejected", logger.Error(err))
		_ = patch(stream, "error", err.Error())
		return
	}
	defer func() {
		if err := s.handler.Handle(context.WithoutCancel(ctx), gateway.Disconnected{ConnectionID: c.id}); err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "Failed to report disconnect", logger.Error(err))
		}
	}()

	for _, channel := range r.URL.Query()["channel"] {
		if err := s.handler.Handle(ctx, gateway.Subscribed{ConnectionID: c.id, Channel: channel}); err != nil {
			_ = patch(stream, "error", err.Error())
		}
	}

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	log.LogAttrs(ctx, slog.LevelDebug, "SSE session opened")
	for {
		var err error
		select {
		case <-ctx.Done():
			log.LogAttrs(ctx, slog.LevelDebug, "SSE session closed")
			return
		case <-c.queue.Done():
			return
		case f := <-c.queue.Frames():
			err = patch(stream, "notification", f)
		case t := <-heartbeat.C:
			err = patch(stream, "heartbeat", t.Unix())
		}
		if err != nil {
			log.LogAttrs(ctx, slog.LevelDebug, "SSE write failed", logger.Error(err))
			return
		}
	}
}

func patch(stream *datastar.ServerSentEventGenerator, name string, value any) error {
	data, err := json.Marshal(map[string]any{name: value})
	if err != nil {
		return err
	}
	return stream.PatchSignals(data)
}
