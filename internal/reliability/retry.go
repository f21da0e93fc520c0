package reliability

import (
	"context"
	"math"
	"time"
)

// Policy decides whether a failed attempt should be retried and how long
// to wait before the next one.
type Policy interface {
	// ShouldRetry reports whether attempt (zero-based) should be retried
	// and the delay to apply first.
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// NextDelay returns the delay before the given attempt.
	NextDelay(attempt int) time.Duration
}

// FixedDelay retries up to MaxAttempts times with a constant delay.
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewFixedDelay creates a fixed delay policy.
func NewFixedDelay(delay time.Duration, maxAttempts int) *FixedDelay {
	return &FixedDelay{Delay: delay, MaxAttempts: maxAttempts}
}

// ShouldRetry implements Policy.
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if err == nil || attempt >= f.MaxAttempts-1 {
		return false, 0
	}
	return true, f.Delay
}

// NextDelay implements Policy.
func (f *FixedDelay) NextDelay(attempt int) time.Duration {
	return f.Delay
}

// ExponentialBackoff doubles the delay on each attempt, capped at
// MaxInterval.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
}

// NewExponentialBackoff creates an exponential backoff policy.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxAttempts,
	}
}

// ShouldRetry implements Policy.
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if err == nil || attempt >= e.MaxAttempts-1 {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// NextDelay implements Policy.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}
	return time.Duration(delay)
}

// Retry executes fn until it succeeds, the policy gives up, or the context
// is done. It returns nil on success and the last error otherwise.
func Retry(ctx context.Context, policy Policy, fn func() error) error {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		retry, delay := policy.ShouldRetry(attempt, err)
		if !retry {
			return err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sleep waits for the policy's delay for the given attempt, returning early
// if the context is done. Supervised loops use it between reconnect cycles.
func Sleep(ctx context.Context, policy Policy, attempt int) error {
	select {
	case <-time.After(policy.NextDelay(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
