package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateDelay_SyncSchedule(t *testing.T) {
	cfg := SyncBackoffConfig()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{500, 5 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateDelay(cfg, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestWithExponentialBackoff_SucceedsAfterRetry(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	calls := 0
	result := WithExponentialBackoff(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("not yet")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, calls)
	assert.NoError(t, result.LastError)
}

func TestWithExponentialBackoff_GivesUp(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	boom := errors.New("boom")

	result := WithExponentialBackoff(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		return boom
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.ErrorIs(t, result.LastError, boom)
}

func TestWithExponentialBackoff_ContextCancelled(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())

	result := WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		cancel()
		return errors.New("down")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(SyncBackoffConfig())
	now := time.Unix(1000, 0)

	assert.Zero(t, b.Remaining(now))

	require.Equal(t, 2*time.Second, b.Failure(now))
	assert.Equal(t, 2*time.Second, b.Remaining(now))
	assert.Equal(t, time.Second, b.Remaining(now.Add(time.Second)))
	assert.Zero(t, b.Remaining(now.Add(3*time.Second)))

	assert.Equal(t, 4*time.Second, b.Failure(now))
	assert.Equal(t, 2, b.Failures())

	b.Success()
	assert.Zero(t, b.Failures())
	assert.Zero(t, b.Remaining(now))
}
