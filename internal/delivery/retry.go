package delivery

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxRetries int           // Attempts after the first (0 disables retrying)
	BaseDelay  time.Duration // Initial delay between attempts (default: 200ms)
	MaxDelay   time.Duration // Cap on the delay (default: 5s)
	Multiplier float64       // Backoff factor (default: 2.0)
}

// DefaultRetryConfig returns retries with the default backoff.
func DefaultRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// Func is one attempt of an outbound call.
type Func func(ctx context.Context) error

// WithRetry runs fn until it succeeds, fails permanently, runs out of
// attempts or ctx ends. With retries, the final error reports the attempt
// count and wraps the last failure.
func WithRetry(ctx context.Context, name string, cfg RetryConfig, logger *zap.Logger, fn Func) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("delivery succeeded after retry",
					zap.String("target", name), zap.Int("attempt", attempt+1))
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := backoff(attempt, cfg)
		logger.Warn("delivery attempt failed, retrying",
			zap.String("target", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if cfg.MaxRetries == 0 {
		return lastErr
	}
	logger.Warn("delivery gave up", zap.String("target", name), zap.Int("attempts", cfg.MaxRetries+1))
	return fmt.Errorf("giving up after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// backoff is BaseDelay * Multiplier^attempt, capped at MaxDelay, with
// 80-120% jitter.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	base, maxDelay, mult := cfg.BaseDelay, cfg.MaxDelay, cfg.Multiplier
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if mult < 1 {
		mult = 2.0
	}

	delay := float64(base) * math.Pow(mult, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	delay *= 0.8 + rand.Float64()*0.4
	return time.Duration(delay)
}
