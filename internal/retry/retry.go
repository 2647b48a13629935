// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"dossier/internal/logger"
)

// Attempt describes one failed invocation that will be retried.
type Attempt struct {
	Operation string
	Number    int // 1-based attempt that just failed
	Err       error
	Delay     time.Duration // Sleep before the next attempt
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Executor holds the retry policy. The zero value makes a single attempt.
type Executor struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Jitter returns a value in [0,1). Defaults to math/rand.
	Jitter func() float64
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(Attempt)
}

// Attempts returns the effective number of invocations.
func (e *Executor) Attempts() int {
	if e == nil || e.MaxRetries < 1 {
		return 1
	}
	return e.MaxRetries
}

// Delay computes the backoff after the given failed attempt (1-based).
func (e *Executor) Delay(attempt int) time.Duration {
	jitter := rand.Float64()
	if e.Jitter != nil {
		jitter = e.Jitter()
	}
	d := float64(e.BaseDelay) * math.Pow(2, float64(attempt-1)) * (1 + jitter)
	if e.MaxDelay > 0 && d > float64(e.MaxDelay) {
		return e.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
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

// Do invokes fn until it succeeds or the executor's attempts are used up.
// No partial result is returned on failure.
func Do[T any](ctx context.Context, e *Executor, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if e == nil {
		e = &Executor{}
	}
	log := logger.FromContext(ctx)
	attempts := e.Attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := e.Delay(attempt)
		log.Warn("Operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay.String(),
			"error", err.Error())
		if e.OnRetry != nil {
			e.OnRetry(Attempt{Operation: operation, Number: attempt, Err: err, Delay: delay})
		}

		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	log.Error("Operation failed after all attempts",
		"operation", operation,
		"attempts", attempts,
		"error", lastErr.Error())
	return zero, &ExhaustedError{Operation: operation, Attempts: attempts, Err: lastErr}
}
