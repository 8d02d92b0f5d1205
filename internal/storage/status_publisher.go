package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scout-sync/internal/worker"
)

const (
	// StatusKey holds the latest sync state as JSON
	StatusKey = "scoutsync:status"
	// StatusChannel receives every published sync state
	StatusChannel = "scoutsync:status:updates"
)

// StatusPublisher mirrors synchronizer state into Redis so other processes
// on the device can show the pending badge without talking to the daemon.
type StatusPublisher struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewStatusPublisher creates a publisher. A zero ttl keeps the key forever.
func NewStatusPublisher(cache *RedisCache, ttl time.Duration) *StatusPublisher {
	return &StatusPublisher{cache: cache, ttl: ttl}
}

// PublishStatus stores state under StatusKey and announces it on StatusChannel
func (p *StatusPublisher) PublishStatus(ctx context.Context, state worker.SyncState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	pipe := p.cache.Client().TxPipeline()
	pipe.Set(ctx, StatusKey, payload, p.ttl)
	pipe.Publish(ctx, StatusChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish sync state: %w", err)
	}
	return nil
}

// LatestStatus reads the last published state
func (p *StatusPublisher) LatestStatus(ctx context.Context) (*worker.SyncState, error) {
	payload, err := p.cache.Client().Get(ctx, StatusKey).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state: %w", err)
	}

	var state worker.SyncState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync state: %w", err)
	}
	return &state, nil
}
