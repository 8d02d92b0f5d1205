package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/models"
)

// ObservationRepository persists observations in the remote store
type ObservationRepository struct {
	db *PostgresDB
}

// NewObservationRepository creates a new observation repository
func NewObservationRepository(db *PostgresDB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// CreateObservation inserts an observation and returns its id. A row that
// carries a local id already present remotely resolves to the existing row,
// so replaying a queued write whose response was lost does not duplicate it.
func (r *ObservationRepository) CreateObservation(ctx context.Context, obs models.NewObservation) (string, error) {
	date, err := time.Parse(models.ObservationDateLayout, obs.ObservationDate)
	if err != nil {
		return "", apperrors.NewValidationError("observation_date", fmt.Sprintf("must use %s", models.ObservationDateLayout))
	}

	query := `
		INSERT INTO observations (
			id, player_id, source, rank, notes, potential_now, potential_future,
			observation_date, created_offline, local_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (local_id) DO UPDATE SET local_id = EXCLUDED.local_id
		RETURNING id::text
	`

	var id string
	err = r.db.Pool().QueryRow(ctx, query,
		uuid.New().String(),
		obs.PlayerID,
		string(obs.Source),
		nullString(obs.Rank),
		nullString(obs.Notes),
		obs.PotentialNow,
		obs.PotentialFuture,
		date,
		obs.OfflineCreated,
		nullString(obs.LocalID),
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return "", remoteWriteError("create observation", err)
	}

	return id, nil
}

// ListObservations returns every observation row as JSON, newest first
func (r *ObservationRepository) ListObservations(ctx context.Context) ([]models.RemoteRecord, error) {
	query := `
		SELECT o.id::text, row_to_json(o)::text
		FROM observations o
		ORDER BY o.observation_date DESC, o.created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewRemoteError("list observations", err)
	}

	records, err := collectRecords(rows)
	if err != nil {
		return nil, apperrors.NewRemoteError("list observations", err)
	}
	return records, nil
}
