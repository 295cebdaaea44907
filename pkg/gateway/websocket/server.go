// Package websocket binds the notification gateway to WebSocket clients
// using gorilla/websocket.
//
// A client connects to the handler with its subscriber identity:
//
//	GET /ws?subscriber_id=u1&channel=alerts
//
// The server answers with {"type":"ready","connection_id":"..."} and then
// streams event frames ({"type":"event","channel":...,"seq":...}). The client
// drives its session with JSON messages:
//
//	{"type":"subscribe","channel":"alerts"}
//	{"type":"unsubscribe","channel":"alerts"}
//	{"type":"ack","channel":"alerts","seq":3}
//	{"type":"resume"}
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/notification-service/pkg/gateway"
	"github.com/dmitrymomot/notification-service/pkg/logger"
)

// Server is an http.Handler that upgrades requests to notification sessions.
type Server struct {
	hub      *gateway.Hub
	handler  gateway.Handler
	upgrader websocket.Upgrader
	cfg      Config
	logger   *slog.Logger
	newID    func() string
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
		d := DefaultConfig()
		if cfg.QueueSize <= 0 {
			cfg.QueueSize = d.QueueSize
		}
		if cfg.SlowThreshold <= 0 {
			cfg.SlowThreshold = cfg.QueueSize
		}
		if cfg.WriteTimeout <= 0 {
			cfg.WriteTimeout = d.WriteTimeout
		}
		if cfg.PongTimeout <= 0 {
			cfg.PongTimeout = d.PongTimeout
		}
		if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
			cfg.PingInterval = cfg.PongTimeout * 9 / 10
		}
		if cfg.MaxMessageSize <= 0 {
			cfg.MaxMessageSize = d.MaxMessageSize
		}
		if len(cfg.AllowedOrigins) == 0 {
			cfg.AllowedOrigins = d.AllowedOrigins
		}
		s.cfg = cfg
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

// NewServer creates a WebSocket binding that attaches sessions to hub and
// reports their signals to handler.
func NewServer(hub *gateway.Hub, handler gateway.Handler, opts ...Option) *Server {
	s := &Server{
		hub:     hub,
		handler: handler,
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		allowed := s.cfg.AllowedOrigins
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
		}
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subscriberID := strings.TrimSpace(r.URL.Query().Get("subscriber_id"))
	if subscriberID == "" {
		http.Error(w, "subscriber_id is required", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		s.logger.LogAttrs(r.Context(), slog.LevelDebug, "WebSocket upgrade failed",
			logger.SubscriberID(subscriberID),
			logger.Error(err),
		)
		return
	}

	c := newConn(s.newID(), ws, s.cfg)
	log := s.logger.With(logger.ConnectionID(c.id), logger.SubscriberID(subscriberID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := c.writeNow(controlMessage{Type: typeReady, ConnectionID: c.id}); err != nil {
		_ = ws.Close()
		return
	}

	s.hub.Attach(c)
	if err := s.handler.Handle(ctx, gateway.Connected{ConnectionID: c.id, SubscriberID: subscriberID}); err != nil {
		s.hub.Detach(c.id)
		log.LogAttrs(ctx, slog.LevelWarn, "Connection rejected", logger.Error(err))
		_ = c.writeNow(controlMessage{Type: typeError, Error: err.Error()})
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rejected"),
			time.Now().Add(s.cfg.WriteTimeout))
		_ = ws.Close()
		return
	}

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		c.writeLoop(log)
	}()

	for _, channel := range r.URL.Query()["channel"] {
		s.dispatch(ctx, c, clientMessage{Type: typeSubscribe, Channel: channel})
	}

	log.LogAttrs(ctx, slog.LevelDebug, "WebSocket session opened")
	c.readLoop(ctx, log, func(msg clientMessage) { s.dispatch(ctx, c, msg) })

	s.hub.Detach(c.id)
	if err := s.handler.Handle(context.WithoutCancel(ctx), gateway.Disconnected{ConnectionID: c.id}); err != nil {
		log.LogAttrs(ctx, slog.LevelWarn, "Failed to report disconnect", logger.Error(err))
	}
	_ = c.Close()
	writer.Wait()
	log.LogAttrs(ctx, slog.LevelDebug, "WebSocket session closed")
}

// dispatch translates one client message into a gateway signal.
func (s *Server) dispatch(ctx context.Context, c *conn, msg clientMessage) {
	var (
		sig   gateway.Signal
		reply string
	)
	switch msg.Type {
	case typeSubscribe:
		sig, reply = gateway.Subscribed{ConnectionID: c.id, Channel: msg.Channel}, typeSubscribed
	case typeUnsubscribe:
		sig, reply = gateway.Unsubscribed{ConnectionID: c.id, Channel: msg.Channel}, typeUnsubscribed
	case typeAck:
		sig = gateway.Acknowledged{ConnectionID: c.id, Channel: msg.Channel, Seq: msg.Seq}
	case typeResume:
		sig, reply = gateway.Resumed{ConnectionID: c.id}, typeResumed
	default:
		c.reply(controlMessage{Type: typeError, Error: "unknown message type: " + msg.Type})
		return
	}

	if err := s.handler.Handle(ctx, sig); err != nil {
		c.reply(controlMessage{Type: typeError, Channel: msg.Channel, Error: err.Error()})
		return
	}
	if reply != "" {
		c.reply(controlMessage{Type: reply, Channel: msg.Channel})
	}
}

type conn struct {
	id      string
	ws      *websocket.Conn
	cfg     Config
	queue   *gateway.Queue
	control chan controlMessage
}

func newConn(id string, ws *websocket.Conn, cfg Config) *conn {
	return &conn{
		id:      id,
		ws:      ws,
		cfg:     cfg,
		queue:   gateway.NewQueue(cfg.QueueSize, cfg.SlowThreshold),
		control: make(chan controlMessage, 16),
	}
}

func (c *conn) ID() string {
	return c.id
}

func (c *conn) Send(ctx context.Context, f gateway.Frame) error {
	return c.queue.Enqueue(ctx, f)
}

// Close stops the writer, which sends a close frame and closes the socket.
func (c *conn) Close() error {
	c.queue.Close()
	return nil
}

// reply queues a control message. Replies to a client that does not read
// are dropped.
func (c *conn) reply(msg controlMessage) {
	select {
	case c.control <- msg:
	case <-c.queue.Done():
	default:
	}
}

// writeNow writes directly to the socket. Only safe before the writer starts.
func (c *conn) writeNow(v any) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) writeLoop(log *slog.Logger) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		var err error
		select {
		case <-c.queue.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		case f := <-c.queue.Frames():
			err = c.writeNow(f)
		case msg := <-c.control:
			err = c.writeNow(msg)
		case <-ticker.C:
			err = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
		}
		if err != nil {
			log.LogAttrs(context.Background(), slog.LevelDebug, "WebSocket write failed", logger.Error(err))
			c.queue.Close()
			return
		}
	}
}

func (c *conn) readLoop(ctx context.Context, log *slog.Logger, handle func(clientMessage)) {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				log.LogAttrs(ctx, slog.LevelDebug, "WebSocket read ended", logger.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(controlMessage{Type: typeError, Error: "malformed message"})
			continue
		}
		handle(msg)
	}
}
