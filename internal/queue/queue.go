// Package queue is the offline write queue: validated observations are
// persisted locally and wait there until the synchronizer pushes them.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/localstore"
	"github.com/scout-sync/internal/logging"
	"github.com/scout-sync/internal/models"
	"github.com/scout-sync/internal/types"
)

// Store is the part of the local store the queue needs
type Store interface {
	PutOffline(ctx context.Context, obs *models.OfflineObservation) error
	GetOffline(ctx context.Context, localID string) (*models.OfflineObservation, error)
	FindOffline(ctx context.Context, q localstore.OfflineQuery) ([]*models.OfflineObservation, error)
	CountOffline(ctx context.Context, statuses ...types.SyncStatus) (int, error)
	CountOfflineByStatus(ctx context.Context) (map[types.SyncStatus]int, error)
	OnChange(fn func(localstore.ChangeEvent)) func()
}

// ObservationInput is a submission. LocalID is generated when empty.
type ObservationInput struct {
	LocalID string `json:"localId,omitempty"`
	models.ObservationPayload
}

// Stats summarizes the queue for display
type Stats struct {
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"` // failed entries that need manual retry
	Total     int `json:"total"`
}

// Config holds queue configuration
type Config struct {
	Store             Store
	MaxDepth          int // 0 means unbounded
	MaxRetryAttempts  int
	ReconcileInterval time.Duration
	Now               func() time.Time
	NewID             func() string
}

// Queue is the offline write queue
type Queue struct {
	store             Store
	maxDepth          int
	maxRetryAttempts  int
	reconcileInterval time.Duration
	now               func() time.Time
	newID             func() string
	logger            *logging.Logger

	// addMu makes the depth check and the insert atomic
	addMu sync.Mutex

	// refreshMu orders count publications
	refreshMu sync.Mutex
	countMu   sync.RWMutex
	count     int

	subsMu    sync.Mutex
	subs      map[int]func(int)
	nextSubID int

	unregister func()

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a queue, computes the initial pending count and starts
// listening for store changes.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth cannot be negative, got %d", cfg.MaxDepth)
	}

	q := &Queue{
		store:             cfg.Store,
		maxDepth:          cfg.MaxDepth,
		maxRetryAttempts:  cfg.MaxRetryAttempts,
		reconcileInterval: cfg.ReconcileInterval,
		now:               cfg.Now,
		newID:             cfg.NewID,
		logger:            logging.WithComponent("queue"),
		subs:              make(map[int]func(int)),
	}
	if q.maxRetryAttempts <= 0 {
		q.maxRetryAttempts = types.DefaultMaxRetryAttempts
	}
	if q.reconcileInterval <= 0 {
		q.reconcileInterval = 30 * time.Second
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = uuid.NewString
	}

	if _, err := q.Refresh(ctx); err != nil {
		return nil, err
	}

	q.unregister = q.store.OnChange(func(localstore.ChangeEvent) {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := q.Refresh(refreshCtx); err != nil {
			q.logger.WithError(err).Warn("Failed to refresh pending count after store change")
		}
	})

	return q, nil
}

// Close stops listening for store changes
func (q *Queue) Close() {
	if q.unregister != nil {
		q.unregister()
	}
}

// Add validates input and persists it as a pending entry. Validation
// failures are returned before anything is written.
func (q *Queue) Add(ctx context.Context, in ObservationInput) (*models.OfflineObservation, error) {
	localID := in.LocalID
	if localID == "" {
		localID = q.newID()
	}

	obs, err := models.NewOfflineObservation(localID, in.ObservationPayload, q.now())
	if err != nil {
		return nil, err
	}

	q.addMu.Lock()
	defer q.addMu.Unlock()

	if in.LocalID != "" {
		if _, err := q.store.GetOffline(ctx, localID); err == nil {
			return nil, apperrors.NewConflictError(fmt.Sprintf("offline observation %s already exists", localID))
		} else if !apperrors.IsNotFound(err) {
			return nil, err
		}
	}

	if q.maxDepth > 0 {
		depth, err := q.store.CountOffline(ctx,
			types.SyncStatusPending, types.SyncStatusFailed, types.SyncStatusSyncing)
		if err != nil {
			return nil, err
		}
		if depth >= q.maxDepth {
			return nil, apperrors.NewQueueFullError(q.maxDepth)
		}
	}

	if err := q.store.PutOffline(ctx, obs); err != nil {
		return nil, err
	}

	q.logger.WithFields(map[string]interface{}{
		"localId":   obs.LocalID,
		"hasPlayer": !obs.NeedsPlayer(),
	}).Info("Observation queued")

	return obs, nil
}

// Get returns one entry
func (q *Queue) Get(ctx context.Context, localID string) (*models.OfflineObservation, error) {
	return q.store.GetOffline(ctx, localID)
}

// List returns entries in the given statuses (all when empty) in queue order
func (q *Queue) List(ctx context.Context, statuses ...types.SyncStatus) ([]*models.OfflineObservation, error) {
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown status %q", st))
		}
	}
	return q.store.FindOffline(ctx, localstore.OfflineQuery{Statuses: statuses})
}

// PendingCount returns the last computed count of pending and failed entries
func (q *Queue) PendingCount() int {
	q.countMu.RLock()
	defer q.countMu.RUnlock()
	return q.count
}

// Refresh recomputes the pending count and notifies subscribers if it changed
func (q *Queue) Refresh(ctx context.Context) (int, error) {
	q.refreshMu.Lock()
	defer q.refreshMu.Unlock()

	count, err := q.store.CountOffline(ctx, types.UnsyncedStatuses...)
	if err != nil {
		return q.PendingCount(), err
	}

	q.countMu.Lock()
	changed := q.count != count
	q.count = count
	q.countMu.Unlock()

	if changed {
		for _, fn := range q.subscribers() {
			fn(count)
		}
	}
	return count, nil
}

// Subscribe delivers the current count immediately and then every change.
// Callbacks must not call Refresh.
func (q *Queue) Subscribe(fn func(count int)) func() {
	q.refreshMu.Lock()
	defer q.refreshMu.Unlock()

	q.subsMu.Lock()
	id := q.nextSubID
	q.nextSubID++
	q.subs[id] = fn
	q.subsMu.Unlock()

	fn(q.PendingCount())

	return func() {
		q.subsMu.Lock()
		delete(q.subs, id)
		q.subsMu.Unlock()
	}
}

func (q *Queue) subscribers() []func(int) {
	q.subsMu.Lock()
	defer q.subsMu.Unlock()

	fns := make([]func(int), 0, len(q.subs))
	for _, fn := range q.subs {
		fns = append(fns, fn)
	}
	return fns
}

// Stats returns per-status counts
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	counts, err := q.store.CountOfflineByStatus(ctx)
	if err != nil {
		return nil, err
	}

	exhausted, err := q.store.FindOffline(ctx, localstore.OfflineQuery{
		Statuses: []types.SyncStatus{types.SyncStatusFailed},
		Filter: func(o *models.OfflineObservation) bool {
			return o.IsExhausted(q.maxRetryAttempts)
		},
	})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Pending:   counts[types.SyncStatusPending],
		Syncing:   counts[types.SyncStatusSyncing],
		Synced:    counts[types.SyncStatusSynced],
		Failed:    counts[types.SyncStatusFailed],
		Exhausted: len(exhausted),
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// Start runs the coarse reconciliation poll
func (q *Queue) Start(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.running {
		return fmt.Errorf("queue reconciler is already running")
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})

	go q.reconcileLoop(ctx, q.stopCh, q.doneCh)
	return nil
}

// Stop stops the reconciliation poll
func (q *Queue) Stop(ctx context.Context) error {
	q.runMu.Lock()
	if !q.running {
		q.runMu.Unlock()
		return nil
	}
	q.running = false
	stopCh, doneCh := q.stopCh, q.doneCh
	q.runMu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) reconcileLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(q.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := q.Refresh(ctx); err != nil {
				q.logger.WithError(err).Warn("Pending count reconciliation failed")
			}
		}
	}
}
