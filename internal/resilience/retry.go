// Package resilience holds the retry policy used around unreliable external
// calls.
package resilience

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy decides how often and how long to retry. The zero value makes one
// attempt and never sleeps.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// Delay returns the wait after the given failed attempt (1-based).
	Delay func(attempt int) time.Duration

	// ShouldRetry classifies errors. Nil means IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error)

	// Sleep waits for d or until ctx is done. Nil means a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// LinearBackoff waits step × attempt.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// DoVal runs fn under p and returns its value. Non-retryable errors and
// context cancellation return immediately; running out of attempts returns an
// *ExhaustedError.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if !shouldRetry(lastErr) {
			return zero, lastErr
		}
		// No wait after the final attempt.
		if attempt == maxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}
		var d time.Duration
		if p.Delay != nil {
			d = p.Delay(attempt)
		}
		if err := sleep(ctx, d); err != nil {
			return zero, lastErr
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
