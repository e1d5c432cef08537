package resolver

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// RetryPolicy implements spec.md §4.11's "exponential backoff with
// configurable base, multiplier, cap, and jitter; configurable max
// attempts (default 0, caller opts in)".
type RetryPolicy struct {
	MaxAttempts int // 0 disables retrying: Do calls fn exactly once
	Base        time.Duration
	Multiplier  float64
	Cap         time.Duration
	Jitter      float64 // fraction of the computed delay, e.g. 0.2 = +/-20%
}

// DefaultRetryPolicy matches common NGDP client defaults: a few attempts,
// half-second base doubling up to 10 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Base:        500 * time.Millisecond,
		Multiplier:  2,
		Cap:         10 * time.Second,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt))
	if cap := float64(p.Cap); d > cap {
		d = cap
	}
	if p.Jitter > 0 {
		jitter := d * p.Jitter
		d += jitter*2*rand.Float64() - jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// retryAfter lets a transient error (HTTP 429) override the computed
// backoff with a server-specified duration.
type retryAfter interface {
	RetryAfter() time.Duration
}

// isRetryable matches spec.md §7's retry boundary: only Transient errors
// are retried; Protocol, Integrity, Missing, Crypto, and Resource errors
// are fatal immediately.
func isRetryable(err error) bool {
	var t *ngdperr.Transient
	return errors.As(err, &t)
}

// Do runs fn, retrying per policy while the returned error is
// Transient, honoring context cancellation between attempts.
func Do(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	var err error
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		wait := policy.delay(attempt)
		if ra, ok := err.(retryAfter); ok {
			wait = ra.RetryAfter()
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
