package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/models"
)

// PlayerRepository persists players in the remote store
type PlayerRepository struct {
	db *PostgresDB
}

// NewPlayerRepository creates a new player repository
func NewPlayerRepository(db *PostgresDB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// CreatePlayer inserts a player and returns its id
func (r *PlayerRepository) CreatePlayer(ctx context.Context, player models.NewPlayer) (string, error) {
	id := uuid.New().String()

	query := `
		INSERT INTO players (id, first_name, last_name, birth_year, club_name, position, dominant_foot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		id,
		player.FirstName,
		player.LastName,
		player.BirthYear,
		nullString(player.ClubName),
		nullString(player.Position),
		nullString(string(player.DominantFoot)),
		time.Now().UTC(),
	)
	if err != nil {
		return "", remoteWriteError("create player", err)
	}

	return id, nil
}

// ListPlayers returns every player row as JSON, newest first
func (r *PlayerRepository) ListPlayers(ctx context.Context) ([]models.RemoteRecord, error) {
	query := `
		SELECT p.id::text, row_to_json(p)::text
		FROM players p
		ORDER BY p.created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewRemoteError("list players", err)
	}

	records, err := collectRecords(rows)
	if err != nil {
		return nil, apperrors.NewRemoteError("list players", err)
	}
	return records, nil
}

// collectRecords reads (id, json) rows
func collectRecords(rows pgx.Rows) ([]models.RemoteRecord, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RemoteRecord, error) {
		var id, data string
		if err := row.Scan(&id, &data); err != nil {
			return models.RemoteRecord{}, err
		}
		if !json.Valid([]byte(data)) {
			return models.RemoteRecord{}, fmt.Errorf("row %s is not valid JSON", id)
		}
		return models.RemoteRecord{ID: id, Data: json.RawMessage(data)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	return records, nil
}

// remoteWriteError separates rows Postgres refused from failures of the
// connection or the server itself
func remoteWriteError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && apperrors.IsRemoteRejection(pgErr) {
		return apperrors.NewRemoteRejectedError(operation, err)
	}
	return apperrors.NewRemoteError(operation, err)
}

// nullString maps empty optional columns to NULL
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
