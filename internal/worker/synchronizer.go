package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scout-sync/internal/circuitbreaker"
	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/localstore"
	"github.com/scout-sync/internal/logging"
	"github.com/scout-sync/internal/models"
	"github.com/scout-sync/internal/retry"
	"github.com/scout-sync/internal/types"
)

// RemoteStore creates rows in the remote database and returns their ids
type RemoteStore interface {
	CreatePlayer(ctx context.Context, p models.NewPlayer) (string, error)
	CreateObservation(ctx context.Context, o models.NewObservation) (string, error)
}

// OfflineStore is the part of the local store the synchronizer needs
type OfflineStore interface {
	GetOffline(ctx context.Context, localID string) (*models.OfflineObservation, error)
	FindOffline(ctx context.Context, q localstore.OfflineQuery) ([]*models.OfflineObservation, error)
	UpdateOffline(ctx context.Context, localID string, patch *models.OfflineObservationPatch) (*models.OfflineObservation, error)
}

// PendingCounter is the offline queue's pending badge
type PendingCounter interface {
	PendingCount() int
	Refresh(ctx context.Context) (int, error)
	Subscribe(fn func(count int)) func()
}

// ConnectivitySignal is the online flag with change notifications
type ConnectivitySignal interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) func()
}

// EventRecorder stores an audit trail of sync attempts
type EventRecorder interface {
	RecordSyncEvents(ctx context.Context, events []models.SyncEvent) error
}

// SyncState is what the UI needs to render sync status
type SyncState struct {
	PendingCount int                `json:"pendingCount"`
	IsSyncing    bool               `json:"isSyncing"`
	Progress     types.SyncProgress `json:"syncProgress"`
	Online       bool               `json:"online"`
	LastPassAt   *time.Time         `json:"lastPassAt,omitempty"`
}

// ItemResult is the outcome of one entry in a pass
type ItemResult struct {
	LocalID  string           `json:"localId"`
	Status   types.SyncStatus `json:"status"`
	PlayerID string           `json:"playerId,omitempty"`
	RemoteID string           `json:"remoteId,omitempty"`
	Attempts int              `json:"attempts"`
	Error    string           `json:"error,omitempty"`
}

// PassResult summarizes a drain pass
type PassResult struct {
	Skipped   bool         `json:"skipped"` // another pass was already running
	Attempted int          `json:"attempted"`
	Synced    int          `json:"synced"`
	Failed    int          `json:"failed"`
	Halted    bool         `json:"halted"` // cancelled between entries, remaining entries untouched
	Items     []ItemResult `json:"items,omitempty"`
}

// SynchronizerConfig holds configuration for a Synchronizer
type SynchronizerConfig struct {
	Store            OfflineStore
	Remote           RemoteStore
	Queue            PendingCounter
	Connectivity     ConnectivitySignal
	Breaker          *circuitbreaker.CircuitBreaker
	Events           EventRecorder // optional
	MaxRetryAttempts int
	Backoff          *retry.RetryConfig
	Now              func() time.Time
}

// Synchronizer drains the offline queue into the remote store
type Synchronizer struct {
	store        OfflineStore
	remote       RemoteStore
	queue        PendingCounter
	connectivity ConnectivitySignal
	breaker      *circuitbreaker.CircuitBreaker
	events       EventRecorder
	maxAttempts  int
	backoff      *retry.Backoff
	now          func() time.Time
	logger       *logging.Logger

	mu         sync.Mutex
	isSyncing  bool
	progress   types.SyncProgress
	lastPassAt *time.Time

	subsMu    sync.Mutex
	subs      map[int]func(SyncState)
	nextSubID int

	triggerCh chan struct{}
	runMu     sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	unsubs    []func()
}

// NewSynchronizer creates a synchronizer
func NewSynchronizer(cfg *SynchronizerConfig) (*Synchronizer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if cfg.Connectivity == nil {
		return nil, fmt.Errorf("connectivity signal cannot be nil")
	}

	maxAttempts := cfg.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = types.DefaultMaxRetryAttempts
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breakerCfg := circuitbreaker.DefaultConfig("remote-store")
		breakerCfg.IsFailure = apperrors.IsRetryable
		breaker = circuitbreaker.NewCircuitBreaker(breakerCfg)
	}

	backoffCfg := cfg.Backoff
	if backoffCfg == nil {
		backoffCfg = retry.SyncBackoffConfig()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Synchronizer{
		store:        cfg.Store,
		remote:       cfg.Remote,
		queue:        cfg.Queue,
		connectivity: cfg.Connectivity,
		breaker:      breaker,
		events:       cfg.Events,
		maxAttempts:  maxAttempts,
		backoff:      retry.NewBackoff(backoffCfg),
		now:          now,
		logger:       logging.WithComponent("synchronizer"),
		subs:         make(map[int]func(SyncState)),
		triggerCh:    make(chan struct{}, 1),
	}, nil
}

// MaxRetryAttempts returns the automatic attempt limit
func (s *Synchronizer) MaxRetryAttempts() int {
	return s.maxAttempts
}

// Status returns the current sync state
func (s *Synchronizer) Status() SyncState {
	s.mu.Lock()
	state := SyncState{
		IsSyncing: s.isSyncing,
		Progress:  s.progress,
	}
	if s.lastPassAt != nil {
		t := *s.lastPassAt
		state.LastPassAt = &t
	}
	s.mu.Unlock()

	state.PendingCount = s.queue.PendingCount()
	state.Online = s.connectivity.IsOnline()
	return state
}

// Subscribe registers fn for every state change and returns an unsubscribe func
func (s *Synchronizer) Subscribe(fn func(SyncState)) func() {
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	fn(s.Status())

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Synchronizer) publish() {
	state := s.Status()

	s.subsMu.Lock()
	fns := make([]func(SyncState), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (s *Synchronizer) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isSyncing {
		return false
	}
	s.isSyncing = true
	s.progress = types.SyncProgress{}
	return true
}

func (s *Synchronizer) end() {
	now := s.now().UTC()
	s.mu.Lock()
	s.isSyncing = false
	s.progress = types.SyncProgress{}
	s.lastPassAt = &now
	s.mu.Unlock()
}

func (s *Synchronizer) setProgress(current, total int) {
	s.mu.Lock()
	s.progress = types.SyncProgress{Current: current, Total: total}
	s.mu.Unlock()
	s.publish()
}

// SyncPending runs one drain pass over every pending or failed entry that
// still has automatic attempts left. A call while another pass is running
// returns immediately with Skipped set. Entries are processed one at a time
// in store order; a failing entry never stops the pass. While the remote
// circuit is open the remaining entries fail fast without spending an
// attempt. ctx is only checked between entries.
func (s *Synchronizer) SyncPending(ctx context.Context) (*PassResult, error) {
	if !s.tryBegin() {
		s.logger.Debug("Drain pass already running, skipping")
		return &PassResult{Skipped: true}, nil
	}
	defer func() {
		s.end()
		if _, err := s.queue.Refresh(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithError(err).Warn("Failed to refresh pending count after pass")
		}
		s.publish()
	}()

	candidates, err := s.store.FindOffline(ctx, localstore.OfflineQuery{
		Statuses: types.UnsyncedStatuses,
		Filter: func(o *models.OfflineObservation) bool {
			return o.SyncAttempts < s.maxAttempts
		},
	})
	if err != nil {
		return nil, err
	}

	result := &PassResult{}
	total := len(candidates)
	s.setProgress(0, total)

	if total > 0 {
		s.logger.WithField("candidates", total).Info("Drain pass started")
	}

	var events []models.SyncEvent
	circuitLogged := false
	for i, obs := range candidates {
		if ctx.Err() != nil {
			result.Halted = true
			s.logger.WithError(ctx.Err()).Warn("Drain pass interrupted")
			break
		}
		if !circuitLogged && !s.breaker.Ready() {
			circuitLogged = true
			s.logger.WithField("remaining", total-i).Warn("Remote store circuit open, remaining entries fail fast")
		}

		item, event := s.syncEntry(ctx, obs, false)
		result.Attempted++
		switch item.Status {
		case types.SyncStatusSynced:
			result.Synced++
		default:
			result.Failed++
		}
		result.Items = append(result.Items, item)
		if event != nil {
			events = append(events, *event)
		}

		s.setProgress(i+1, total)
	}

	s.recordEvents(ctx, events)

	if result.Attempted > 0 {
		s.logger.WithFields(map[string]interface{}{
			"attempted": result.Attempted,
			"synced":    result.Synced,
			"failed":    result.Failed,
			"halted":    result.Halted,
		}).Info("Drain pass finished")
	}
	return result, nil
}

// RetryItem pushes a single pending or failed entry right away, including
// entries that used up their automatic attempts. It needs connectivity and
// refuses to run alongside a drain pass.
func (s *Synchronizer) RetryItem(ctx context.Context, localID string) (*ItemResult, error) {
	if !s.connectivity.IsOnline() {
		return nil, apperrors.NewOfflineError("retry")
	}

	obs, err := s.store.GetOffline(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !obs.SyncStatus.CanTransitionTo(types.SyncStatusSyncing) {
		return nil, apperrors.NewInvalidTransitionError(localID, obs.SyncStatus, types.SyncStatusSyncing)
	}

	if !s.tryBegin() {
		return nil, apperrors.NewConflictError("a drain pass is in progress")
	}
	defer func() {
		s.end()
		if _, err := s.queue.Refresh(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithError(err).Warn("Failed to refresh pending count after retry")
		}
		s.publish()
	}()

	// Re-read under the guard so a pass that just finished is observed
	obs, err = s.store.GetOffline(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !obs.SyncStatus.CanTransitionTo(types.SyncStatusSyncing) {
		return nil, apperrors.NewInvalidTransitionError(localID, obs.SyncStatus, types.SyncStatusSyncing)
	}

	s.setProgress(0, 1)
	item, event := s.syncEntry(ctx, obs, true)
	s.setProgress(1, 1)

	if event != nil {
		s.recordEvents(ctx, []models.SyncEvent{*event})
	}
	return &item, nil
}

// syncEntry moves one entry through syncing to synced or failed
func (s *Synchronizer) syncEntry(ctx context.Context, obs *models.OfflineObservation, manual bool) (ItemResult, *models.SyncEvent) {
	started := s.now()
	logger := s.logger.WithFields(map[string]interface{}{
		"localId": obs.LocalID,
		"manual":  manual,
	})
	item := ItemResult{LocalID: obs.LocalID, Status: obs.SyncStatus, Attempts: obs.SyncAttempts}

	if !obs.SyncStatus.CanTransitionTo(types.SyncStatusSyncing) {
		err := apperrors.NewInvalidTransitionError(obs.LocalID, obs.SyncStatus, types.SyncStatusSyncing)
		item.Error = err.Error()
		return item, nil
	}

	syncing := types.SyncStatusSyncing
	stamp := started.UTC()
	if _, err := s.store.UpdateOffline(ctx, obs.LocalID, &models.OfflineObservationPatch{
		SyncStatus:      &syncing,
		LastSyncAttempt: &stamp,
	}); err != nil {
		logger.WithError(err).Error("Failed to mark entry as syncing")
		item.Error = err.Error()
		return item, nil
	}

	playerID, remoteID, syncErr := s.push(ctx, obs, logger)
	item.PlayerID = playerID

	event := &models.SyncEvent{
		LocalID:    obs.LocalID,
		PlayerID:   playerID,
		Manual:     manual,
		OccurredAt: stamp,
	}

	if syncErr == nil {
		synced := types.SyncStatusSynced
		empty := ""
		if _, err := s.store.UpdateOffline(ctx, obs.LocalID, &models.OfflineObservationPatch{
			RemoteID:   &remoteID,
			SyncStatus: &synced,
			SyncError:  &empty,
		}); err != nil {
			// The remote row exists; the entry stays in syncing and is
			// picked up by RecoverInterrupted on the next start.
			logger.WithError(err).WithField("remoteId", remoteID).Error("Failed to mark entry as synced")
			item.Status = types.SyncStatusSyncing
			item.Error = err.Error()
			return item, nil
		}

		item.Status = types.SyncStatusSynced
		item.RemoteID = remoteID
		event.Status = types.SyncStatusSynced
		event.RemoteID = remoteID
		event.Attempt = obs.SyncAttempts + 1
		event.DurationMs = s.now().Sub(started).Milliseconds()
		logger.WithField("remoteId", remoteID).Info("Observation synced")
		return item, event
	}

	// Neither an open circuit nor a lost local write says anything about
	// the record, so they do not spend an attempt
	attempts := obs.SyncAttempts
	if !isBreakerRejection(syncErr) && !errors.Is(syncErr, errPlayerIDNotRecorded) {
		attempts++
	}
	if attempts > s.maxAttempts {
		attempts = s.maxAttempts
	}

	failed := types.SyncStatusFailed
	message := syncErr.Error()
	if _, err := s.store.UpdateOffline(ctx, obs.LocalID, &models.OfflineObservationPatch{
		SyncStatus:   &failed,
		SyncAttempts: &attempts,
		SyncError:    &message,
	}); err != nil {
		logger.WithError(err).Error("Failed to mark entry as failed")
	}

	item.Status = types.SyncStatusFailed
	item.Attempts = attempts
	item.Error = message
	event.Status = types.SyncStatusFailed
	event.Error = message
	event.Attempt = attempts
	event.DurationMs = s.now().Sub(started).Milliseconds()

	if errors.Is(syncErr, errPlayerIDNotRecorded) {
		logger.WithError(syncErr).WithField("orphanPlayerId", playerID).Error("Remote player has no local reference and may be duplicated on retry")
	}

	logger.WithError(syncErr).WithField("attempts", attempts).Warn("Observation sync failed")
	return item, event
}

// push resolves the player and creates the observation. A newly created
// player id is written back to the entry before the observation call so a
// retry never creates the player twice.
func (s *Synchronizer) push(ctx context.Context, obs *models.OfflineObservation, logger *logging.Logger) (playerID, remoteID string, err error) {
	playerID = obs.Data.PlayerID

	if playerID == "" {
		err = s.breaker.Execute(ctx, func(ctx context.Context) error {
			id, createErr := s.remote.CreatePlayer(ctx, models.PlayerFromPayload(obs.Data))
			playerID = id
			return createErr
		})
		if err != nil {
			return "", "", fmt.Errorf("create player: %w", err)
		}
		if playerID == "" {
			return "", "", fmt.Errorf("create player: remote returned empty id")
		}

		if _, err = s.store.UpdateOffline(ctx, obs.LocalID, &models.OfflineObservationPatch{PlayerID: &playerID}); err != nil {
			logger.WithError(err).WithField("playerId", playerID).Error("Created player but could not record its id locally")
			return playerID, "", fmt.Errorf("%w %s: %w", errPlayerIDNotRecorded, playerID, err)
		}
		obs.Data.PlayerID = playerID
	}

	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		id, createErr := s.remote.CreateObservation(ctx, models.ObservationFromEntry(obs, playerID))
		remoteID = id
		return createErr
	})
	if err != nil {
		return playerID, "", fmt.Errorf("create observation: %w", err)
	}
	if remoteID == "" {
		return playerID, "", fmt.Errorf("create observation: remote returned empty id")
	}
	return playerID, remoteID, nil
}

// errPlayerIDNotRecorded marks a remote player whose id could not be
// written back to the queue entry
var errPlayerIDNotRecorded = errors.New("created player but could not record its id")

func isBreakerRejection(err error) bool {
	return errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests)
}

func (s *Synchronizer) recordEvents(ctx context.Context, events []models.SyncEvent) {
	if s.events == nil || len(events) == 0 {
		return
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.RecordSyncEvents(recordCtx, events); err != nil {
		s.logger.WithError(err).WithField("events", len(events)).Warn("Failed to record sync events")
	}
}

// RecoverInterrupted fails entries left in syncing by a previous process
// that stopped mid-item. The interrupted try counts as an attempt.
func (s *Synchronizer) RecoverInterrupted(ctx context.Context) (int, error) {
	stuck, err := s.store.FindOffline(ctx, localstore.OfflineQuery{
		Statuses: []types.SyncStatus{types.SyncStatusSyncing},
	})
	if err != nil {
		return 0, err
	}

	failed := types.SyncStatusFailed
	message := "sync interrupted before completion"
	for _, obs := range stuck {
		attempts := obs.SyncAttempts + 1
		if attempts > s.maxAttempts {
			attempts = s.maxAttempts
		}
		if _, err := s.store.UpdateOffline(ctx, obs.LocalID, &models.OfflineObservationPatch{
			SyncStatus:   &failed,
			SyncAttempts: &attempts,
			SyncError:    &message,
		}); err != nil {
			return 0, err
		}
	}

	if len(stuck) > 0 {
		s.logger.WithField("entries", len(stuck)).Warn("Recovered entries interrupted mid-sync")
	}
	return len(stuck), nil
}
