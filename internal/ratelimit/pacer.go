// Package ratelimit paces writes to the remote store so a long offline
// backlog does not arrive as one burst when connectivity returns.
package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/scout-sync/internal/models"
	"golang.org/x/time/rate"
)

// ErrContextCancelled is returned when the context ends while waiting for a token
var ErrContextCancelled = errors.New("context cancelled while waiting for remote write budget")

// RemoteWriter is the write side of the remote store
type RemoteWriter interface {
	CreatePlayer(ctx context.Context, player models.NewPlayer) (string, error)
	CreateObservation(ctx context.Context, obs models.NewObservation) (string, error)
}

// PacerMetrics is a snapshot of pacing activity
type PacerMetrics struct {
	Calls         int64         `json:"calls"`
	ThrottleCount int64         `json:"throttleCount"` // calls that had to wait
	WaitTimeTotal time.Duration `json:"waitTimeTotal"`
}

// RemotePacer wraps a RemoteWriter with a token bucket
type RemotePacer struct {
	next    RemoteWriter
	limiter *rate.Limiter

	calls     atomic.Int64
	throttled atomic.Int64
	waitNanos atomic.Int64
}

// NewRemotePacer allows requestsPerSecond writes with the given burst.
// A non-positive rate disables pacing.
func NewRemotePacer(next RemoteWriter, requestsPerSecond float64, burst int) *RemotePacer {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RemotePacer{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// CreatePlayer waits for a token and forwards
func (p *RemotePacer) CreatePlayer(ctx context.Context, player models.NewPlayer) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	return p.next.CreatePlayer(ctx, player)
}

// CreateObservation waits for a token and forwards
func (p *RemotePacer) CreateObservation(ctx context.Context, obs models.NewObservation) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	return p.next.CreateObservation(ctx, obs)
}

func (p *RemotePacer) wait(ctx context.Context) error {
	p.calls.Add(1)

	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return ErrContextCancelled
	}
	if waited := time.Since(start); waited > time.Millisecond {
		p.throttled.Add(1)
		p.waitNanos.Add(int64(waited))
	}
	return nil
}

// Metrics returns the pacing counters
func (p *RemotePacer) Metrics() PacerMetrics {
	return PacerMetrics{
		Calls:         p.calls.Load(),
		ThrottleCount: p.throttled.Load(),
		WaitTimeTotal: time.Duration(p.waitNanos.Load()),
	}
}
