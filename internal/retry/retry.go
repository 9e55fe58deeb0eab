// Package retry implements a first-class retry policy with bounded
// exponential backoff and jitter. The ingestion pipeline owns a Policy
// for provider batch calls; the policy is unit-testable in isolation.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidMaxAttempts is returned when a policy is configured with
// fewer than one attempt.
var ErrInvalidMaxAttempts = errors.New("retry: max attempts must be > 0")

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; it doubles on
	// each subsequent attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff curve. Zero means uncapped.
	MaxDelay time.Duration

	// Jitter adds up to this fraction of the delay as random slack
	// (0.2 means +-0 to +20%). Zero disables jitter.
	Jitter float64

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy matches the ingestion defaults: five attempts with a
// one second base delay, capped at thirty seconds, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Delay returns the backoff delay before the given 1-based attempt,
// excluding jitter. Attempt 1 has no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := p.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Do runs operation until it succeeds, attempts are exhausted, or the
// context is cancelled. It returns the error from the last attempt.
func (p Policy) Do(ctx context.Context, operation func() error) error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt + 1)
		if p.Jitter > 0 && delay > 0 {
			delay += time.Duration(rand.Float64() * p.Jitter * float64(delay))
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
