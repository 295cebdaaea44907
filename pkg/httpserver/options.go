package httpserver

import (
	"log/slog"
	"time"
)

// Option configures the HTTP server. Empty or non-positive values leave
// the current setting untouched, so options can be fed straight from a
// partially filled Config.
type Option func(*config)

func WithAddr(addr string) Option {
	return func(c *config) {
		if addr != "" {
			c.addr = addr
		}
	}
}

func WithReadHeaderTimeout(d time.Duration) Option {
	return duration(d, func(c *config) *time.Duration { return &c.readHeaderTimeout })
}

func WithReadTimeout(d time.Duration) Option {
	return duration(d, func(c *config) *time.Duration { return &c.readTimeout })
}

// WithWriteTimeout bounds response writes. Leave it unset while serving
// SSE or any other long-lived stream.
func WithWriteTimeout(d time.Duration) Option {
	return duration(d, func(c *config) *time.Duration { return &c.writeTimeout })
}

func WithIdleTimeout(d time.Duration) Option {
	return duration(d, func(c *config) *time.Duration { return &c.idleTimeout })
}

// WithShutdownTimeout bounds the graceful drain of open connections.
func WithShutdownTimeout(d time.Duration) Option {
	return duration(d, func(c *config) *time.Duration { return &c.shutdownTimeout })
}

func duration(d time.Duration, field func(*config) *time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			*field(c) = d
		}
	}
}

// WithLogger sets the server logger. Without it, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStartHook registers a callback that runs once the listener is bound.
func WithStartHook(h func(log *slog.Logger, addr string)) Option {
	return func(c *config) {
		if h != nil {
			c.startHooks = append(c.startHooks, h)
		}
	}
}

// WithStopHook registers a callback that runs after the server has drained.
func WithStopHook(h func(log *slog.Logger)) Option {
	return func(c *config) {
		if h != nil {
			c.stopHooks = append(c.stopHooks, h)
		}
	}
}
