package dispatcher

import "time"

// Config is populated from the environment.
type Config struct {
	AckTimeout    time.Duration `env:"DISPATCH_ACK_TIMEOUT" envDefault:"10s"`    // AckTimeout bounds the wait for a client acknowledgment.
	SweepInterval time.Duration `env:"DISPATCH_SWEEP_INTERVAL" envDefault:"30s"` // SweepInterval is the period of the fallback pass over all live streams.
}

const (
	DefaultAckTimeout    = 10 * time.Second
	DefaultSweepInterval = 30 * time.Second
)
