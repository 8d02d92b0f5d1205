// Package cache serves player and observation lists online from the remote
// store and offline from the last snapshot kept in the local store.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/localstore"
	"github.com/scout-sync/internal/logging"
	"github.com/scout-sync/internal/models"
)

// RemoteReader lists full remote rows
type RemoteReader interface {
	ListPlayers(ctx context.Context) ([]models.RemoteRecord, error)
	ListObservations(ctx context.Context) ([]models.RemoteRecord, error)
}

// SnapshotStore is the part of the local store the cache needs
type SnapshotStore interface {
	BulkPutPlayers(ctx context.Context, records []models.RemoteRecord, cachedAt time.Time) error
	BulkPutObservations(ctx context.Context, records []models.RemoteRecord, cachedAt time.Time) error
	ListCachedPlayers(ctx context.Context, q localstore.CachedQuery) ([]models.CachedRecord, error)
	ListCachedObservations(ctx context.Context, q localstore.CachedQuery) ([]models.CachedRecord, error)
}

// OnlineSignal reports current connectivity
type OnlineSignal interface {
	IsOnline() bool
}

// ReadResult is a list answer. CachedAt is the oldest snapshot time among
// the records and is zero for live reads.
type ReadResult struct {
	Records   []json.RawMessage `json:"records"`
	FromCache bool              `json:"fromCache"`
	CachedAt  time.Time         `json:"cachedAt,omitempty"`
}

// Config holds Manager dependencies
type Config struct {
	Remote          RemoteReader
	Store           SnapshotStore
	Online          OnlineSignal
	SnapshotTimeout time.Duration
	Now             func() time.Time
}

// Manager implements the read-through cache
type Manager struct {
	remote          RemoteReader
	store           SnapshotStore
	online          OnlineSignal
	snapshotTimeout time.Duration
	now             func() time.Time
	logger          *logging.Logger

	// in-flight snapshot writes
	wg sync.WaitGroup
}

// NewManager creates a cache manager
func NewManager(cfg Config) *Manager {
	timeout := cfg.SnapshotTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		remote:          cfg.Remote,
		store:           cfg.Store,
		online:          cfg.Online,
		snapshotTimeout: timeout,
		now:             now,
		logger:          logging.WithComponent("cache"),
	}
}

type collection struct {
	name   string
	fetch  func(ctx context.Context) ([]models.RemoteRecord, error)
	put    func(ctx context.Context, records []models.RemoteRecord, cachedAt time.Time) error
	cached func(ctx context.Context, q localstore.CachedQuery) ([]models.CachedRecord, error)
}

func (m *Manager) players() collection {
	return collection{"players", m.remote.ListPlayers, m.store.BulkPutPlayers, m.store.ListCachedPlayers}
}

func (m *Manager) observations() collection {
	return collection{"observations", m.remote.ListObservations, m.store.BulkPutObservations, m.store.ListCachedObservations}
}

// ListPlayers returns all players
func (m *Manager) ListPlayers(ctx context.Context) (*ReadResult, error) {
	return m.read(ctx, m.players())
}

// ListObservations returns all observations
func (m *Manager) ListObservations(ctx context.Context) (*ReadResult, error) {
	return m.read(ctx, m.observations())
}

func (m *Manager) read(ctx context.Context, c collection) (*ReadResult, error) {
	logger := m.logger.WithField("collection", c.name)

	if !m.online.IsOnline() {
		return m.fromSnapshot(ctx, c)
	}

	records, err := c.fetch(ctx)
	if err != nil {
		remoteErr := apperrors.NewRemoteError("list "+c.name, err)
		logger.WithError(err).Warn("Remote read failed, falling back to snapshot")

		result, cacheErr := m.fromSnapshot(ctx, c)
		if cacheErr != nil || len(result.Records) == 0 {
			return nil, remoteErr
		}
		return result, nil
	}

	m.snapshot(ctx, c, records)

	out := make([]json.RawMessage, len(records))
	for i, r := range records {
		out[i] = r.Data
	}
	return &ReadResult{Records: out}, nil
}

func (m *Manager) fromSnapshot(ctx context.Context, c collection) (*ReadResult, error) {
	cached, err := c.cached(ctx, localstore.CachedQuery{})
	if err != nil {
		return nil, err
	}

	result := &ReadResult{
		Records:   make([]json.RawMessage, len(cached)),
		FromCache: true,
	}
	for i, rec := range cached {
		result.Records[i] = rec.Data
		if result.CachedAt.IsZero() || rec.CachedAt.Before(result.CachedAt) {
			result.CachedAt = rec.CachedAt
		}
	}
	return result, nil
}

// snapshot writes records in the background; failures are only logged
func (m *Manager) snapshot(ctx context.Context, c collection, records []models.RemoteRecord) {
	if len(records) == 0 {
		return
	}
	cachedAt := m.now().UTC()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		snapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.snapshotTimeout)
		defer cancel()

		if err := c.put(snapCtx, records, cachedAt); err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"collection": c.name,
				"records":    len(records),
			}).Warn("Snapshot write failed")
			return
		}
		m.logger.WithFields(map[string]interface{}{
			"collection": c.name,
			"records":    len(records),
		}).Debug("Snapshot written")
	}()
}

// Wait blocks until all background snapshot writes have finished
func (m *Manager) Wait() {
	m.wg.Wait()
}
