package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scout-sync/internal/models"
)

type countingWriter struct {
	players      atomic.Int32
	observations atomic.Int32
}

func (w *countingWriter) CreatePlayer(context.Context, models.NewPlayer) (string, error) {
	w.players.Add(1)
	return "P1", nil
}

func (w *countingWriter) CreateObservation(context.Context, models.NewObservation) (string, error) {
	w.observations.Add(1)
	return "O1", nil
}

func TestRemotePacer_Unlimited(t *testing.T) {
	next := &countingWriter{}
	pacer := NewRemotePacer(next, 0, 0)

	for i := 0; i < 50; i++ {
		_, err := pacer.CreateObservation(context.Background(), models.NewObservation{})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(50), next.observations.Load())
	m := pacer.Metrics()
	assert.Equal(t, int64(50), m.Calls)
	assert.Equal(t, int64(0), m.ThrottleCount)
}

func TestRemotePacer_Throttles(t *testing.T) {
	next := &countingWriter{}
	pacer := NewRemotePacer(next, 20, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := pacer.CreatePlayer(context.Background(), models.NewPlayer{})
		require.NoError(t, err)
	}

	// Burst of one, then two waits of ~50ms each
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, int32(3), next.players.Load())
	m := pacer.Metrics()
	assert.Equal(t, int64(2), m.ThrottleCount)
	assert.Greater(t, m.WaitTimeTotal, time.Duration(0))
}

func TestRemotePacer_CancelledWhileWaiting(t *testing.T) {
	next := &countingWriter{}
	pacer := NewRemotePacer(next, 0.1, 1)

	_, err := pacer.CreatePlayer(context.Background(), models.NewPlayer{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pacer.CreateObservation(ctx, models.NewObservation{})

	assert.True(t, errors.Is(err, ErrContextCancelled))
	assert.Equal(t, int32(0), next.observations.Load())
}
