// Package models provides data models for the scouting sync system.
package models

import (
	"strings"
	"time"

	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/types"
)

// ObservationDateLayout is the wire format of observation dates
const ObservationDateLayout = "2006-01-02"

const (
	minBirthYear    = 1950
	maxNameLength   = 100
	maxNotesLength  = 5000
	minPotential    = 0
	maxPotential    = 10
	maxRankLength   = 20
	maxClubLength   = 200
	maxPositionSize = 50
)

// ObservationPayload carries everything needed to materialize a player (if it
// does not exist remotely yet) and an observation for that player.
type ObservationPayload struct {
	PlayerID        string                  `json:"player_id,omitempty"`
	FirstName       string                  `json:"first_name"`
	LastName        string                  `json:"last_name"`
	BirthYear       int                     `json:"birth_year"`
	ClubName        string                  `json:"club_name,omitempty"`
	Position        string                  `json:"position,omitempty"`
	DominantFoot    types.DominantFoot      `json:"dominant_foot,omitempty"`
	Source          types.ObservationSource `json:"source"`
	Rank            string                  `json:"rank,omitempty"`
	Notes           string                  `json:"notes,omitempty"`
	PotentialNow    *int                    `json:"potential_now,omitempty"`
	PotentialFuture *int                    `json:"potential_future,omitempty"`
	ObservationDate string                  `json:"observation_date"`
}

// OfflineObservation is one entry of the offline write queue
type OfflineObservation struct {
	LocalID         string             `json:"localId"`
	RemoteID        string             `json:"remoteId,omitempty"`
	Data            ObservationPayload `json:"data"`
	CreatedAt       time.Time          `json:"createdAt"`
	SyncStatus      types.SyncStatus   `json:"syncStatus"`
	SyncAttempts    int                `json:"syncAttempts"`
	SyncError       string             `json:"syncError,omitempty"`
	LastSyncAttempt *time.Time         `json:"lastSyncAttempt,omitempty"`
}

// NeedsPlayer reports whether the remote player still has to be created
func (o *OfflineObservation) NeedsPlayer() bool {
	return o.Data.PlayerID == ""
}

// IsExhausted reports whether automatic retries are used up
func (o *OfflineObservation) IsExhausted(maxAttempts int) bool {
	return o.SyncStatus == types.SyncStatusFailed && o.SyncAttempts >= maxAttempts
}

// OfflineObservationPatch lists the fields of an entry to change.
// Nil fields are left untouched.
type OfflineObservationPatch struct {
	RemoteID        *string
	PlayerID        *string
	SyncStatus      *types.SyncStatus
	SyncAttempts    *int
	SyncError       *string
	LastSyncAttempt *time.Time
}

// Apply merges the patch into o
func (p *OfflineObservationPatch) Apply(o *OfflineObservation) {
	if p.RemoteID != nil {
		o.RemoteID = *p.RemoteID
	}
	if p.PlayerID != nil {
		o.Data.PlayerID = *p.PlayerID
	}
	if p.SyncStatus != nil {
		o.SyncStatus = *p.SyncStatus
	}
	if p.SyncAttempts != nil {
		o.SyncAttempts = *p.SyncAttempts
	}
	if p.SyncError != nil {
		o.SyncError = *p.SyncError
	}
	if p.LastSyncAttempt != nil {
		t := *p.LastSyncAttempt
		o.LastSyncAttempt = &t
	}
}

// NewOfflineObservation validates the payload and builds a pending queue entry.
// Nothing that fails here ever reaches durable storage.
func NewOfflineObservation(localID string, payload ObservationPayload, now time.Time) (*OfflineObservation, error) {
	if strings.TrimSpace(localID) == "" {
		return nil, apperrors.NewValidationError("localId", "required")
	}

	payload.FirstName = strings.TrimSpace(payload.FirstName)
	payload.LastName = strings.TrimSpace(payload.LastName)
	payload.ClubName = strings.TrimSpace(payload.ClubName)
	payload.Position = strings.TrimSpace(payload.Position)
	payload.PlayerID = strings.TrimSpace(payload.PlayerID)

	if err := payload.Validate(now); err != nil {
		return nil, err
	}

	return &OfflineObservation{
		LocalID:      localID,
		Data:         payload,
		CreatedAt:    now.UTC(),
		SyncStatus:   types.SyncStatusPending,
		SyncAttempts: 0,
	}, nil
}

// Validate checks required fields and value ranges
func (p *ObservationPayload) Validate(now time.Time) error {
	if p.FirstName == "" {
		return apperrors.NewValidationError("first_name", "required")
	}
	if len(p.FirstName) > maxNameLength {
		return apperrors.NewValidationError("first_name", "too long")
	}
	if p.LastName == "" {
		return apperrors.NewValidationError("last_name", "required")
	}
	if len(p.LastName) > maxNameLength {
		return apperrors.NewValidationError("last_name", "too long")
	}
	if p.BirthYear == 0 {
		return apperrors.NewValidationError("birth_year", "required")
	}
	if p.BirthYear < minBirthYear || p.BirthYear > now.Year() {
		return apperrors.NewValidationError("birth_year", "out of range")
	}
	if len(p.ClubName) > maxClubLength {
		return apperrors.NewValidationError("club_name", "too long")
	}
	if len(p.Position) > maxPositionSize {
		return apperrors.NewValidationError("position", "too long")
	}
	if p.DominantFoot != "" && !p.DominantFoot.IsValid() {
		return apperrors.NewValidationError("dominant_foot", "must be left, right or both")
	}
	if p.Source == "" {
		return apperrors.NewValidationError("source", "required")
	}
	if !p.Source.IsValid() {
		return apperrors.NewValidationError("source", "unknown source")
	}
	if len(p.Rank) > maxRankLength {
		return apperrors.NewValidationError("rank", "too long")
	}
	if len(p.Notes) > maxNotesLength {
		return apperrors.NewValidationError("notes", "too long")
	}
	if err := validatePotential("potential_now", p.PotentialNow); err != nil {
		return err
	}
	if err := validatePotential("potential_future", p.PotentialFuture); err != nil {
		return err
	}
	if p.ObservationDate == "" {
		return apperrors.NewValidationError("observation_date", "required")
	}
	if _, err := time.Parse(ObservationDateLayout, p.ObservationDate); err != nil {
		return apperrors.NewValidationError("observation_date", "must be YYYY-MM-DD")
	}
	return nil
}

func validatePotential(field string, v *int) error {
	if v == nil {
		return nil
	}
	if *v < minPotential || *v > maxPotential {
		return apperrors.NewValidationError(field, "must be between 0 and 10")
	}
	return nil
}
