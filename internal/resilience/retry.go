package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is an immutable backoff configuration shared across
// algorithm attempts. Delays apply only between retries of the same
// algorithm, never across fallback-chain candidates.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts per algorithm,
	// including the first. Default: 3
	MaxAttempts int

	// InitialDelay is the delay after the first failed attempt.
	// Default: 1 second
	InitialDelay time.Duration

	// MaxDelay caps the computed delay. Default: 60 seconds
	MaxDelay time.Duration

	// ExponentialBase is the per-attempt delay multiplier. Default: 2.0
	ExponentialBase float64

	// Jitter randomizes each delay by a uniform factor in [0.5, 1.5).
	Jitter bool
}

// DefaultRetryPolicy returns the standard retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 60 * time.Second
	}
	if p.ExponentialBase <= 1 {
		p.ExponentialBase = 2.0
	}
	return p
}

// Delay computes the backoff delay before retry number attempt
// (0-indexed): min(InitialDelay * ExponentialBase^attempt, MaxDelay),
// jittered when enabled.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()

	d := float64(p.InitialDelay) * math.Pow(p.ExponentialBase, float64(attempt))
	d = math.Min(d, float64(p.MaxDelay))
	if p.Jitter {
		d *= 0.5 + rand.Float64() //nolint:gosec // jitter, not crypto
	}
	return time.Duration(d)
}

// BackOff builds the backoff chain used by the supervisor's per-algorithm
// retry loop: exponential delays per this policy, capped at
// MaxAttempts-1 retries, aborted when ctx is done.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	p = p.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.ExponentialBase
	bo.MaxElapsedTime = 0 // attempts are bounded by WithMaxRetries
	if p.Jitter {
		bo.RandomizationFactor = 0.5
	} else {
		bo.RandomizationFactor = 0
	}
	bo.Reset()

	withRetries := backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1))
	return backoff.WithContext(withRetries, ctx)
}
