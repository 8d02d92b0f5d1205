// Package retry provides exponential backoff for remote connections and
// automatic sync passes.
package retry

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/scout-sync/internal/logging"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns a default retry configuration
// Pattern: 1s, 2s, 4s, 8s, max 30s
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// SyncBackoffConfig is the delay schedule between failing sync passes:
// 2s doubling up to 5 minutes.
func SyncBackoffConfig() *RetryConfig {
	return &RetryConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
	}
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"-"`
}

// RetryFunc is a function that can be retried
type RetryFunc func(ctx context.Context, attempt int) error

// WithExponentialBackoff executes fn until it succeeds, attempts run out or
// ctx is cancelled.
func WithExponentialBackoff(ctx context.Context, config *RetryConfig, fn RetryFunc) *RetryResult {
	logger := logging.FromContext(ctx)
	startTime := time.Now()
	result := &RetryResult{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(startTime)
			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration.String(),
				}).Info("Operation succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if attempt >= config.MaxAttempts {
			logger.WithError(err).WithField("attempts", attempt).Error("Operation failed after max retry attempts")
			break
		}

		delay := CalculateDelay(config, attempt)
		logger.WithError(err).WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": config.MaxAttempts,
			"delay":       delay.String(),
		}).Warn("Operation failed, retrying with exponential backoff")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// WithRetry retries fn with the default configuration
func WithRetry(ctx context.Context, fn RetryFunc) error {
	result := WithExponentialBackoff(ctx, DefaultRetryConfig(), fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

// CalculateDelay returns initialDelay * multiplier^(attempt-1), capped at MaxDelay
func CalculateDelay(config *RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}

// Backoff tracks consecutive failures of a repeating operation and tells the
// caller how long to hold off before the next run.
type Backoff struct {
	config *RetryConfig

	mu       sync.Mutex
	failures int
	notUntil time.Time
}

// NewBackoff creates a Backoff following config
func NewBackoff(config *RetryConfig) *Backoff {
	return &Backoff{config: config}
}

// Failure records a failed run at now and returns the delay before the next one
func (b *Backoff) Failure(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	delay := CalculateDelay(b.config, b.failures)
	b.notUntil = now.Add(delay)
	return delay
}

// Success clears the failure streak
func (b *Backoff) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.notUntil = time.Time{}
}

// Remaining returns how long to wait at now; zero means go ahead
func (b *Backoff) Remaining(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Before(b.notUntil) {
		return b.notUntil.Sub(now)
	}
	return 0
}

// Failures returns the current failure streak
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
