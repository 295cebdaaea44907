package websocket

import "time"

// Config is populated from the environment.
type Config struct {
	QueueSize      int           `env:"WS_QUEUE_SIZE" envDefault:"64"`                      // QueueSize is the outbound frame buffer per connection.
	SlowThreshold  int           `env:"WS_SLOW_THRESHOLD" envDefault:"64"`                  // SlowThreshold is the queue depth at which pushes are refused.
	WriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`                  // WriteTimeout bounds a single frame write.
	PongTimeout    time.Duration `env:"WS_PONG_TIMEOUT" envDefault:"60s"`                   // PongTimeout is how long the peer may stay silent.
	PingInterval   time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`                  // PingInterval must be shorter than PongTimeout.
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"4096"`              // MaxMessageSize limits inbound client messages.
	AllowedOrigins []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"` // AllowedOrigins lists cross-origin callers; "*" allows any.
}

// DefaultConfig mirrors the environment defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:      64,
		SlowThreshold:  64,
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		AllowedOrigins: []string{"*"},
	}
}
