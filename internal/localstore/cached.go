package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/models"
)

// CachedQuery selects snapshot records. A zero Since returns everything.
type CachedQuery struct {
	Since time.Time
}

// BulkPutPlayers upserts player snapshots stamped with cachedAt
func (s *Store) BulkPutPlayers(ctx context.Context, records []models.RemoteRecord, cachedAt time.Time) error {
	return s.bulkPutCached(ctx, CollectionPlayers, records, cachedAt)
}

// BulkPutObservations upserts observation snapshots stamped with cachedAt
func (s *Store) BulkPutObservations(ctx context.Context, records []models.RemoteRecord, cachedAt time.Time) error {
	return s.bulkPutCached(ctx, CollectionObservations, records, cachedAt)
}

// ListCachedPlayers returns player snapshots in first-cached order
func (s *Store) ListCachedPlayers(ctx context.Context, q CachedQuery) ([]models.CachedRecord, error) {
	return s.listCached(ctx, CollectionPlayers, q)
}

// ListCachedObservations returns observation snapshots in first-cached order
func (s *Store) ListCachedObservations(ctx context.Context, q CachedQuery) ([]models.CachedRecord, error) {
	return s.listCached(ctx, CollectionObservations, q)
}

// GetCachedPlayer returns one player snapshot
func (s *Store) GetCachedPlayer(ctx context.Context, id string) (*models.CachedRecord, error) {
	return s.getCached(ctx, CollectionPlayers, id)
}

// GetCachedObservation returns one observation snapshot
func (s *Store) GetCachedObservation(ctx context.Context, id string) (*models.CachedRecord, error) {
	return s.getCached(ctx, CollectionObservations, id)
}

func (s *Store) bulkPutCached(ctx context.Context, c Collection, records []models.RemoteRecord, cachedAt time.Time) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data, cached_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at`, c)
	stamp := cachedAt.UTC().UnixNano()

	return s.withTx(ctx, "put "+string(c), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			if r.ID == "" {
				return fmt.Errorf("%s record without id", c)
			}
			if _, err := stmt.ExecContext(ctx, r.ID, string(r.Data), stamp); err != nil {
				return fmt.Errorf("upsert %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) listCached(ctx context.Context, c Collection, q CachedQuery) ([]models.CachedRecord, error) {
	query := fmt.Sprintf(`SELECT id, data, cached_at FROM %s`, c)
	var args []interface{}
	if !q.Since.IsZero() {
		query += ` WHERE cached_at >= ?`
		args = append(args, q.Since.UTC().UnixNano())
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewLocalStoreError("list "+string(c), err)
	}
	defer rows.Close()

	var result []models.CachedRecord
	for rows.Next() {
		rec, err := scanCached(rows)
		if err != nil {
			return nil, apperrors.NewLocalStoreError("scan "+string(c), err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewLocalStoreError("list "+string(c), err)
	}
	return result, nil
}

func (s *Store) getCached(ctx context.Context, c Collection, id string) (*models.CachedRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id, data, cached_at FROM %s WHERE id = ?`, c), id)

	rec, err := scanCached(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(string(c), id)
	}
	if err != nil {
		return nil, apperrors.NewLocalStoreError("get "+string(c), err)
	}
	return rec, nil
}

func scanCached(row scanner) (*models.CachedRecord, error) {
	var (
		rec      models.CachedRecord
		data     string
		cachedAt int64
	)
	if err := row.Scan(&rec.ID, &data, &cachedAt); err != nil {
		return nil, err
	}
	rec.Data = []byte(data)
	rec.CachedAt = time.Unix(0, cachedAt).UTC()
	return &rec, nil
}
