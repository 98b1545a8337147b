// Package retry implements the exponential-backoff-with-jitter retry policy
// from spec §7, wrapping cenkalti/backoff. Only errors whose beaderr.Code is
// marked retryable are retried; everything else short-circuits immediately.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuemby/beads/pkg/beaderr"
)

// Policy holds the retry parameters named in spec §7.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultPolicy matches the teacher's conservative defaults for background
// reconciliation and storage retries.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.2,
	}
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.RandomizationFactor = p.JitterFactor
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0 // bounded by MaxAttempts via backoff.WithMaxRetries instead
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs fn, retrying on errors whose beaderr.Code is retryable, up to
// p.MaxAttempts total attempts. Permanent errors and control-flow errors
// (Cancelled) are returned immediately without retrying. If all attempts are
// exhausted on a retryable error, the final error is wrapped as
// beaderr.RetryExceeded.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		be, ok := err.(*beaderr.Error)
		if !ok || !be.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, p.backoff(ctx))
	if err == nil {
		return nil
	}
	if be, ok := lastErr.(*beaderr.Error); ok && be.Retryable() {
		return beaderr.Wrap(beaderr.RetryExceeded, "retries exhausted", lastErr)
	}
	return err
}
