// Package service holds the observation submission flow: write through to
// the remote store while online, fall back to the offline queue otherwise.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/logging"
	"github.com/scout-sync/internal/models"
	"github.com/scout-sync/internal/queue"
)

// QueueWriter is the part of the offline queue submissions need
type QueueWriter interface {
	Add(ctx context.Context, in queue.ObservationInput) (*models.OfflineObservation, error)
	Get(ctx context.Context, localID string) (*models.OfflineObservation, error)
}

// RemoteWriter creates rows in the remote store
type RemoteWriter interface {
	CreatePlayer(ctx context.Context, player models.NewPlayer) (string, error)
	CreateObservation(ctx context.Context, obs models.NewObservation) (string, error)
}

// OnlineSignal reports connectivity
type OnlineSignal interface {
	IsOnline() bool
}

// SubmissionResult tells the caller where the observation went
type SubmissionResult struct {
	Queued        bool                       `json:"queued"`
	LocalID       string                     `json:"localId"`
	PlayerID      string                     `json:"playerId,omitempty"`
	ObservationID string                     `json:"observationId,omitempty"`
	Entry         *models.OfflineObservation `json:"entry,omitempty"`
}

// SubmissionConfig holds submission dependencies
type SubmissionConfig struct {
	Queue  QueueWriter
	Remote RemoteWriter // nil routes everything through the queue
	Online OnlineSignal
	// AlwaysQueue sends every submission through the queue even when online
	AlwaysQueue bool
	Now         func() time.Time
	NewID       func() string
}

// SubmissionService accepts observations from the UI
type SubmissionService struct {
	queue       QueueWriter
	remote      RemoteWriter
	online      OnlineSignal
	alwaysQueue bool
	now         func() time.Time
	newID       func() string
	logger      *logging.Logger
}

// NewSubmissionService creates a new submission service
func NewSubmissionService(cfg SubmissionConfig) *SubmissionService {
	s := &SubmissionService{
		queue:       cfg.Queue,
		remote:      cfg.Remote,
		online:      cfg.Online,
		alwaysQueue: cfg.AlwaysQueue,
		now:         cfg.Now,
		newID:       cfg.NewID,
		logger:      logging.WithComponent("submission"),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Submit validates in and either writes it to the remote store directly or
// queues it. A failed direct write is queued, keeping any player that was
// already created so the synchronizer does not create it again.
// Validation errors are returned before anything is written.
func (s *SubmissionService) Submit(ctx context.Context, in queue.ObservationInput) (*SubmissionResult, error) {
	localID := in.LocalID
	if localID == "" {
		localID = s.newID()
	}

	entry, err := models.NewOfflineObservation(localID, in.ObservationPayload, s.now())
	if err != nil {
		return nil, err
	}

	if s.alwaysQueue || s.remote == nil || s.online == nil || !s.online.IsOnline() {
		return s.enqueue(ctx, localID, entry.Data)
	}

	// A caller-supplied id already in the queue would otherwise create a
	// second player for the same observation
	if in.LocalID != "" {
		if _, err := s.queue.Get(ctx, localID); err == nil {
			return nil, apperrors.NewConflictError(fmt.Sprintf("offline observation %s already exists", localID))
		} else if !apperrors.IsNotFound(err) {
			return nil, err
		}
	}

	logger := s.logger.WithField("localId", localID)

	playerID := entry.Data.PlayerID
	if playerID == "" {
		playerID, err = s.remote.CreatePlayer(ctx, models.PlayerFromPayload(entry.Data))
		if err != nil {
			logger.WithError(err).Warn("Direct player write failed, queueing")
			return s.enqueue(ctx, localID, entry.Data)
		}
	}

	obs := models.ObservationFromEntry(entry, playerID)
	obs.OfflineCreated = false
	observationID, err := s.remote.CreateObservation(ctx, obs)
	if err != nil {
		logger.WithError(err).Warn("Direct observation write failed, queueing")
		payload := entry.Data
		payload.PlayerID = playerID
		return s.enqueue(ctx, localID, payload)
	}

	logger.WithField("observationId", observationID).Debug("Observation written directly")
	return &SubmissionResult{
		LocalID:       localID,
		PlayerID:      playerID,
		ObservationID: observationID,
	}, nil
}

func (s *SubmissionService) enqueue(ctx context.Context, localID string, payload models.ObservationPayload) (*SubmissionResult, error) {
	entry, err := s.queue.Add(ctx, queue.ObservationInput{LocalID: localID, ObservationPayload: payload})
	if err != nil {
		return nil, err
	}
	return &SubmissionResult{
		Queued:   true,
		LocalID:  entry.LocalID,
		PlayerID: entry.Data.PlayerID,
		Entry:    entry,
	}, nil
}
