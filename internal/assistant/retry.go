package assistant

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (default: 2)
	BaseDelay  time.Duration // Initial delay between retries (default: 500ms)
	MaxDelay   time.Duration // Maximum delay between retries (default: 5s)
	Multiplier float64       // Delay multiplier for exponential backoff (default: 2.0)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// withRetry calls fn until it succeeds, fails with a non-retryable error,
// or the attempts run out.
func withRetry[T any](ctx context.Context, log *zap.Logger, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info("assistant request succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return result, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return zero, err
		}

		if attempt < cfg.MaxRetries {
			delay := calculateDelay(attempt, cfg)
			log.Warn("assistant request failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	log.Error("assistant request failed", zap.Int("attempts", cfg.MaxRetries+1), zap.Error(lastErr))
	return zero, lastErr
}

// calculateDelay computes the delay for the given attempt using exponential
// backoff with jitter.
func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(cfg.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	// Randomize between 80% and 120% of the delay.
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(delay * jitter)
}
