// Package broker implements the pub/sub adapters behind ports.Broker.
package broker

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Reconnect backoff defaults.
const (
	DefaultBackoffInitial = 250 * time.Millisecond
	DefaultBackoffMax     = 5 * time.Second
	DefaultBackoffJitter  = 0.2
)

// BackoffConfig configures reconnect delays: exponential from Initial, capped
// at Max, randomized by ±Jitter.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// DefaultBackoff returns the standard reconnect policy.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial: DefaultBackoffInitial,
		Max:     DefaultBackoffMax,
		Jitter:  DefaultBackoffJitter,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = DefaultBackoffInitial
	}
	if c.Max <= 0 {
		c.Max = DefaultBackoffMax
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Jitter <= 0 || c.Jitter >= 1 {
		c.Jitter = DefaultBackoffJitter
	}
	return c
}

func (c BackoffConfig) newBackOff() *backoff.ExponentialBackOff {
	c = c.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Initial
	b.MaxInterval = c.Max
	b.Multiplier = 2
	b.RandomizationFactor = c.Jitter
	b.Reset()
	return b
}
