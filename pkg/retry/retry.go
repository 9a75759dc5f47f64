package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrMaxAttempts is wrapped by the error returned once every attempt failed
// with a retryable error.
var ErrMaxAttempts = errors.New("max attempts exceeded")

// Config holds retry configuration
type Config struct {
	MaxAttempts  int           // Total number of attempts, including the first
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Exponential backoff multiplier (typically 2.0)
	Jitter       bool          // Spread delays by +/-25% to avoid lockstep retries

	// Retryable classifies errors. nil retries every error.
	Retryable func(err error) bool
	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Do executes fn with exponential backoff until it succeeds, returns a
// non-retryable error, runs out of attempts or ctx is done. fn receives the
// 1-based attempt number.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	_, err := DoWithResult(ctx, cfg, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// DoWithResult is Do for functions that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(attempt int) (T, error)) (T, error) {
	var zero T

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}

		if attempt == maxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(Delay(cfg, attempt-1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%w (%d): %w", ErrMaxAttempts, maxAttempts, lastErr)
}

// Delay returns the backoff before retry number n (0-based).
func Delay(cfg Config, n int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(n))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	duration := time.Duration(delay)
	if cfg.Jitter && duration > 0 {
		spread := int64(duration / 2)
		if spread > 0 {
			duration = duration - duration/4 + time.Duration(rand.Int63n(spread))
		}
	}

	return duration
}
