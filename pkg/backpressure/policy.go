package backpressure

import (
	"math/rand/v2"
	"time"
)

// Policy controls retry pacing for a single stream.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// Jitter is the fraction, in [0, 1], of the gap between two consecutive
	// backoff ceilings that is randomized.
	Jitter float64
}

// Config is populated from the environment.
type Config struct {
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	Jitter      float64       `env:"RETRY_JITTER" envDefault:"0.5"`
}

func (c Config) Policy() Policy {
	return Policy{
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		MaxAttempts: c.MaxAttempts,
		Jitter:      c.Jitter,
	}
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		Jitter:      0.5,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = max(d.MaxDelay, p.BaseDelay)
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	return p
}

// ceiling is the upper backoff bound for attempt n: BaseDelay doubled per
// attempt and capped at MaxDelay. Attempt 0 is BaseDelay/2.
func (p Policy) ceiling(n int) time.Duration {
	if n <= 0 {
		return p.BaseDelay / 2
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// belowCap is the largest ceiling under MaxDelay, or BaseDelay/2 when
// BaseDelay already reaches it.
func (p Policy) belowCap() time.Duration {
	c := p.BaseDelay / 2
	for d := p.BaseDelay; d > 0 && d < p.MaxDelay; d *= 2 {
		c = d
	}
	return c
}

// Delay returns the wait before retry number attempt (1-based).
//
// The value is drawn from [ceiling(n) - Jitter*(ceiling(n)-ceiling(n-1)), ceiling(n)].
// The lower bound never drops below the previous ceiling, so successive
// delays of one stream never shrink before the cap, while streams failing
// together still spread out. Once the cap is reached every attempt draws
// from the band the first capped attempt used,
// [MaxDelay - Jitter*(MaxDelay-belowCap), MaxDelay].
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64)
}

func (p Policy) delay(attempt int, random func() float64) time.Duration {
	hi := p.ceiling(attempt)
	lo := p.ceiling(attempt - 1)
	if hi == p.MaxDelay && lo == hi {
		lo = p.belowCap()
	}
	floor := hi - time.Duration(p.Jitter*float64(hi-lo))
	return floor + time.Duration(random()*float64(hi-floor))
}
