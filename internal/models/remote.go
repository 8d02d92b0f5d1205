package models

import (
	"encoding/json"
	"time"

	"github.com/scout-sync/internal/types"
)

// NewPlayer holds the denormalized player fields sent to the remote store
type NewPlayer struct {
	FirstName    string             `json:"first_name"`
	LastName     string             `json:"last_name"`
	BirthYear    int                `json:"birth_year"`
	ClubName     string             `json:"club_name,omitempty"`
	Position     string             `json:"position,omitempty"`
	DominantFoot types.DominantFoot `json:"dominant_foot,omitempty"`
}

// NewObservation holds the observation row sent to the remote store
type NewObservation struct {
	PlayerID        string                  `json:"player_id"`
	Source          types.ObservationSource `json:"source"`
	Rank            string                  `json:"rank,omitempty"`
	Notes           string                  `json:"notes,omitempty"`
	PotentialNow    *int                    `json:"potential_now,omitempty"`
	PotentialFuture *int                    `json:"potential_future,omitempty"`
	ObservationDate string                  `json:"observation_date"`
	// OfflineCreated flags rows that went through the offline queue
	OfflineCreated bool   `json:"created_offline"`
	LocalID        string `json:"local_id,omitempty"`
}

// PlayerFromPayload extracts the player part of a queued payload
func PlayerFromPayload(p ObservationPayload) NewPlayer {
	return NewPlayer{
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		BirthYear:    p.BirthYear,
		ClubName:     p.ClubName,
		Position:     p.Position,
		DominantFoot: p.DominantFoot,
	}
}

// ObservationFromEntry builds the observation row for a queued entry
func ObservationFromEntry(o *OfflineObservation, playerID string) NewObservation {
	return NewObservation{
		PlayerID:        playerID,
		Source:          o.Data.Source,
		Rank:            o.Data.Rank,
		Notes:           o.Data.Notes,
		PotentialNow:    o.Data.PotentialNow,
		PotentialFuture: o.Data.PotentialFuture,
		ObservationDate: o.Data.ObservationDate,
		OfflineCreated:  true,
		LocalID:         o.LocalID,
	}
}

// RemoteRecord is a full remote row as returned by a list query.
// The cache keeps Data verbatim.
type RemoteRecord struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// CachedRecord is a last-known snapshot of a remote row
type CachedRecord struct {
	ID       string          `json:"id"`
	Data     json.RawMessage `json:"data"`
	CachedAt time.Time       `json:"cachedAt"`
}

// SyncEvent is one audited sync attempt
type SyncEvent struct {
	LocalID    string           `json:"localId" ch:"local_id"`
	Attempt    int              `json:"attempt" ch:"attempt"`
	Status     types.SyncStatus `json:"status" ch:"status"`
	PlayerID   string           `json:"playerId,omitempty" ch:"player_id"`
	RemoteID   string           `json:"remoteId,omitempty" ch:"remote_id"`
	Error      string           `json:"error,omitempty" ch:"error"`
	Manual     bool             `json:"manual" ch:"manual"`
	DurationMs int64            `json:"durationMs" ch:"duration_ms"`
	OccurredAt time.Time        `json:"occurredAt" ch:"occurred_at"`
}
