package absinthe

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig configures the Connection driver's reconnect backoff
// (spec.md §4.1 "reconnect with exponential backoff"). Grounded on
// nasnet-community-nasnet-panel's connection.BackoffConfig.
type BackoffConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxElapsedTime      time.Duration // 0 = retry indefinitely
}

// DefaultBackoffConfig returns the default reconnect backoff: 1s initial,
// 30s max, doubling, half-jittered, never gives up — matching spec.md §4.1's
// "reconnect retries indefinitely under transient failures."
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval:     1 * time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      0,
	}
}

func newExponentialBackoff(cfg BackoffConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = cfg.RandomizationFactor
	b.MaxElapsedTime = cfg.MaxElapsedTime
	b.Reset()
	return b
}

func newExponentialBackoffWithContext(ctx context.Context, cfg BackoffConfig) backoff.BackOff {
	return backoff.WithContext(newExponentialBackoff(cfg), ctx)
}
