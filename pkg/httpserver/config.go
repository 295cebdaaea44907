package httpserver

import (
	"strconv"
	"time"
)

// DefaultPort is the port the service listens on when neither PORT nor
// HTTP_ADDR is set.
const DefaultPort = 5101

type Config struct {
	// Port is used when Addr is empty.
	Port int `env:"PORT" envDefault:"5101"`
	// Addr overrides Port with a full listen address.
	Addr              string        `env:"HTTP_ADDR"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	// WriteTimeout must stay zero while SSE streams are served.
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Address returns the listen address.
func (c Config) Address() string {
	if c.Addr != "" {
		return c.Addr
	}
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return ":" + strconv.Itoa(port)
}

// NewFromConfig creates a Server from cfg. Zero durations keep the
// server defaults; opts are applied last.
func NewFromConfig(cfg Config, opts ...Option) *Server {
	return New(append([]Option{
		WithAddr(cfg.Address()),
		WithReadHeaderTimeout(cfg.ReadHeaderTimeout),
		WithReadTimeout(cfg.ReadTimeout),
		WithWriteTimeout(cfg.WriteTimeout),
		WithIdleTimeout(cfg.IdleTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}, opts...)...)
}
