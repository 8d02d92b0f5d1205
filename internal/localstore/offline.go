package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/models"
	"github.com/scout-sync/internal/types"
)

const offlineColumns = `local_id, remote_id, data, created_at, sync_status, sync_attempts, sync_error, last_sync_attempt`

const upsertOfflineSQL = `
INSERT INTO offline_observations (` + offlineColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(local_id) DO UPDATE SET
	remote_id = excluded.remote_id,
	data = excluded.data,
	created_at = excluded.created_at,
	sync_status = excluded.sync_status,
	sync_attempts = excluded.sync_attempts,
	sync_error = excluded.sync_error,
	last_sync_attempt = excluded.last_sync_attempt`

// OfflineQuery selects queue entries. Zero fields do not filter.
type OfflineQuery struct {
	Statuses    []types.SyncStatus
	CreatedFrom time.Time // inclusive
	CreatedTo   time.Time // exclusive
	// Filter is evaluated after the indexed conditions
	Filter func(*models.OfflineObservation) bool
	Limit  int
}

// PutOffline inserts or replaces one queue entry
func (s *Store) PutOffline(ctx context.Context, obs *models.OfflineObservation) error {
	return s.BulkPutOffline(ctx, obs)
}

// BulkPutOffline inserts or replaces entries atomically, keyed by local id
func (s *Store) BulkPutOffline(ctx context.Context, entries ...*models.OfflineObservation) error {
	if len(entries) == 0 {
		return nil
	}

	ids := make([]string, 0, len(entries))
	err := s.withTx(ctx, "put offline observation", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertOfflineSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, obs := range entries {
			args, err := offlineArgs(obs)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("upsert %s: %w", obs.LocalID, err)
			}
			ids = append(ids, obs.LocalID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(ChangeEvent{Collection: CollectionOffline, LocalIDs: ids})
	return nil
}

// GetOffline returns the entry with the given local id
func (s *Store) GetOffline(ctx context.Context, localID string) (*models.OfflineObservation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+offlineColumns+` FROM offline_observations WHERE local_id = ?`, localID)

	obs, err := scanOffline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("offline observation", localID)
	}
	if err != nil {
		return nil, apperrors.NewLocalStoreError("get offline observation", err)
	}
	return obs, nil
}

// UpdateOffline merges patch into the stored entry and returns the result.
// A missing key is a not found error; nothing is created.
func (s *Store) UpdateOffline(ctx context.Context, localID string, patch *models.OfflineObservationPatch) (*models.OfflineObservation, error) {
	var updated *models.OfflineObservation

	err := s.withTx(ctx, "update offline observation", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+offlineColumns+` FROM offline_observations WHERE local_id = ?`, localID)
		obs, err := scanOffline(row)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("offline observation", localID)
		}
		if err != nil {
			return err
		}

		patch.Apply(obs)

		args, err := offlineArgs(obs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertOfflineSQL, args...); err != nil {
			return err
		}
		updated = obs
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ChangeEvent{Collection: CollectionOffline, LocalIDs: []string{localID}})
	return updated, nil
}

// FindOffline returns matching entries in insertion order
func (s *Store) FindOffline(ctx context.Context, q OfflineQuery) ([]*models.OfflineObservation, error) {
	where, args := q.where()
	query := `SELECT ` + offlineColumns + ` FROM offline_observations` + where + ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewLocalStoreError("find offline observations", err)
	}
	defer rows.Close()

	var result []*models.OfflineObservation
	for rows.Next() {
		obs, err := scanOffline(rows)
		if err != nil {
			return nil, apperrors.NewLocalStoreError("scan offline observation", err)
		}
		if q.Filter != nil && !q.Filter(obs) {
			continue
		}
		result = append(result, obs)
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewLocalStoreError("find offline observations", err)
	}

	return result, nil
}

// CountOffline counts entries in any of the given statuses (all when empty)
func (s *Store) CountOffline(ctx context.Context, statuses ...types.SyncStatus) (int, error) {
	where, args := OfflineQuery{Statuses: statuses}.where()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_observations`+where, args...).Scan(&count); err != nil {
		return 0, apperrors.NewLocalStoreError("count offline observations", err)
	}
	return count, nil
}

// CountOfflineByStatus returns a count for every status present
func (s *Store) CountOfflineByStatus(ctx context.Context) (map[types.SyncStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM offline_observations GROUP BY sync_status`)
	if err != nil {
		return nil, apperrors.NewLocalStoreError("count by status", err)
	}
	defer rows.Close()

	counts := make(map[types.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.NewLocalStoreError("count by status", err)
		}
		counts[types.SyncStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewLocalStoreError("count by status", err)
	}
	return counts, nil
}

func (q OfflineQuery) where() (string, []interface{}) {
	var conds []string
	var args []interface{}

	if len(q.Statuses) == 1 {
		conds = append(conds, "sync_status = ?")
		args = append(args, string(q.Statuses[0]))
	} else if len(q.Statuses) > 1 {
		placeholders := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "sync_status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !q.CreatedFrom.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, q.CreatedFrom.UnixNano())
	}
	if !q.CreatedTo.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, q.CreatedTo.UnixNano())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func offlineArgs(obs *models.OfflineObservation) ([]interface{}, error) {
	if obs.LocalID == "" {
		return nil, apperrors.NewValidationError("localId", "required")
	}
	data, err := json.Marshal(obs.Data)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	var lastAttempt sql.NullInt64
	if obs.LastSyncAttempt != nil {
		lastAttempt = sql.NullInt64{Int64: obs.LastSyncAttempt.UnixNano(), Valid: true}
	}

	return []interface{}{
		obs.LocalID,
		obs.RemoteID,
		string(data),
		obs.CreatedAt.UnixNano(),
		string(obs.SyncStatus),
		obs.SyncAttempts,
		obs.SyncError,
		lastAttempt,
	}, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOffline(row scanner) (*models.OfflineObservation, error) {
	var (
		obs         models.OfflineObservation
		data        string
		createdAt   int64
		status      string
		lastAttempt sql.NullInt64
	)

	if err := row.Scan(
		&obs.LocalID,
		&obs.RemoteID,
		&data,
		&createdAt,
		&status,
		&obs.SyncAttempts,
		&obs.SyncError,
		&lastAttempt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(data), &obs.Data); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", obs.LocalID, err)
	}
	obs.CreatedAt = time.Unix(0, createdAt).UTC()
	obs.SyncStatus = types.SyncStatus(status)
	if lastAttempt.Valid {
		t := time.Unix(0, lastAttempt.Int64).UTC()
		obs.LastSyncAttempt = &t
	}
	return &obs, nil
}
