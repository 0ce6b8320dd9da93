// Package retry provides context-aware retries with exponential backoff and
// bounded absolute jitter.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Factor is the multiplier applied per retry.
	Factor float64
	// Jitter is the half-width of the uniform jitter window added to each
	// delay. A delay never goes below zero.
	Jitter time.Duration
}

// Providers returns the retry policy used for transient provider errors:
// eight retries, exponential from 1.25s capped at 20s, ±500ms jitter.
func Providers() Config {
	return Config{
		MaxRetries:   8,
		InitialDelay: 1250 * time.Millisecond,
		MaxDelay:     20 * time.Second,
		Factor:       2.0,
		Jitter:       500 * time.Millisecond,
	}
}

// Result describes the outcome of Do.
type Result struct {
	// Attempts is the total number of attempts made, including the first.
	Attempts int
	// Err is the final error, nil on success.
	Err error
	// Duration is the wall time spent, sleeps included.
	Duration time.Duration
}

// Delay returns the sleep before retry n (1-based), jitter included.
func Delay(cfg Config, retryN int) time.Duration {
	return DelayWithRand(cfg, retryN, rand.Float64)
}

// DelayWithRand is Delay with an injectable randomness source so tests can
// pin the jitter. rnd must return values in [0, 1).
func DelayWithRand(cfg Config, retryN int, rnd func() float64) time.Duration {
	if retryN < 1 {
		retryN = 1
	}
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := cfg.Factor
	if factor <= 1 {
		factor = 2.0
	}

	base := float64(initial) * math.Pow(factor, float64(retryN-1))
	if max := cfg.MaxDelay; max > 0 && base > float64(max) {
		base = float64(max)
	}

	delay := time.Duration(base)
	if cfg.Jitter > 0 {
		// Uniform in [-Jitter, +Jitter).
		offset := time.Duration((rnd()*2 - 1) * float64(cfg.Jitter))
		delay += offset
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Do runs op, retrying while retryable reports the returned error as
// transient. The context aborts both the operation gap sleeps and the loop;
// a canceled context is never retried. Errors wrapped with Permanent stop
// the loop regardless of retryable.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, op func(attempt int) error) Result {
	start := time.Now()
	result := Result{}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		err := op(attempt)
		if err == nil {
			result.Err = nil
			break
		}
		result.Err = err

		if IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if retryable != nil && !retryable(err) {
			break
		}
		if attempt > maxRetries {
			break
		}

		if err := Sleep(ctx, Delay(cfg, attempt)); err != nil {
			result.Err = err
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// Sleep pauses for d or until the context is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
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

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error to stop the retry loop.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the no-retry marker.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
