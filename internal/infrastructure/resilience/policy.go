package resilience

import (
	"log/slog"
	"math"
	"strings"
	"time"
)

// RetryPolicy bounds how often and how patiently one operation is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// BreakerPolicy opens an operation's circuit once MinRequests calls were seen
// and at least FailureRatio of them recorded a failure.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy

	// Overrides replace Retry for one operation family. A key matches the
	// exact operation name or the part before its first dot, so "audit"
	// covers "audit.http".
	Overrides map[string]RetryPolicy

	// OnStateChange observes circuit transitions ("closed", "half-open",
	// "open").
	OnStateChange func(operation, from, to string)

	Logger *slog.Logger
}

// DefaultConfig retries search briefly, since a user is waiting on it, and
// gives background audit delivery more room.
func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
		Overrides: map[string]RetryPolicy{
			"audit": {MaxAttempts: 5, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second, Multiplier: 2},
			"nats":  {MaxAttempts: 5, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second, Multiplier: 2},
		},
	}
}

// retryFor resolves the policy of operation, falling back to c.Retry.
func (c Config) retryFor(operation string) RetryPolicy {
	if p, ok := c.Overrides[operation]; ok {
		return p.withDefaults(c.Retry)
	}
	if family, _, found := strings.Cut(operation, "."); found {
		if p, ok := c.Overrides[family]; ok {
			return p.withDefaults(c.Retry)
		}
	}
	return c.Retry
}

// delay is the wait after the given failed attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

func (p RetryPolicy) withDefaults(def RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

func (p BreakerPolicy) withDefaults(def BreakerPolicy) BreakerPolicy {
	if p.MinRequests == 0 {
		p.MinRequests = def.MinRequests
	}
	if p.FailureRatio <= 0 || p.FailureRatio > 1 {
		p.FailureRatio = def.FailureRatio
	}
	if p.OpenTimeout <= 0 {
		p.OpenTimeout = def.OpenTimeout
	}
	if p.HalfOpenMaxCalls == 0 {
		p.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return p
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	c.Retry = c.Retry.withDefaults(def.Retry)
	c.Breaker = c.Breaker.withDefaults(def.Breaker)
	return c
}
