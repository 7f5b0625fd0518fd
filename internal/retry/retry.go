// Package retry provides exponential backoff for address predictor calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	minererrors "github.com/screa/hook-salt-miner/internal/errors"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// RPCConfig returns a configuration tuned for JSON-RPC calls made inside a
// mining loop: few, short retries so one flaky call does not eat the deadline.
func RPCConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    1 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// NoRetry performs a single attempt
func NoRetry() *Config {
	return &Config{MaxAttempts: 1, Multiplier: 1.0}
}

// Do executes a function with retry logic and returns its result
func Do[T any](ctx context.Context, config *Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	if config == nil {
		config = DefaultConfig()
	}

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}

		lastErr = err

		if !minererrors.IsRetryable(err) {
			return zero, err
		}

		// Don't delay after the last attempt
		if attempt == config.MaxAttempts-1 {
			break
		}

		delay := config.calculateDelay(attempt)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	if config.MaxAttempts <= 1 {
		return zero, lastErr
	}
	return zero, minererrors.Wrap(lastErr, minererrors.ErrorTypeInternal, "retry",
		"operation failed after maximum retry attempts").
		WithContext("max_attempts", config.MaxAttempts)
}

// calculateDelay calculates the delay for the given attempt using exponential backoff
func (c *Config) calculateDelay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))

	delay = min(delay, float64(c.MaxDelay))

	if c.Jitter {
		// up to 10% of the delay
		jitter := delay * 0.1 * rand.Float64()
		delay += jitter
	}

	return time.Duration(delay)
}
