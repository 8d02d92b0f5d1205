package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/scout-sync/internal/models"
	"github.com/scout-sync/internal/types"
)

// SyncEventRepository appends sync attempts to the ClickHouse audit log
type SyncEventRepository struct {
	db *ClickHouseDB
}

// NewSyncEventRepository creates a new sync event repository
func NewSyncEventRepository(db *ClickHouseDB) *SyncEventRepository {
	return &SyncEventRepository{db: db}
}

// RecordSyncEvents inserts events in one batch
func (r *SyncEventRepository) RecordSyncEvents(ctx context.Context, events []models.SyncEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO sync_events (
			local_id, attempt, status, player_id, remote_id, error, manual, duration_ms, occurred_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer func() {
		_ = batch.Abort() // nolint:errcheck // no-op after Send
	}()

	for _, e := range events {
		attempt := e.Attempt
		if attempt < 0 {
			attempt = 0
		}
		if err := batch.Append(
			e.LocalID,
			uint16(attempt), // #nosec G115 - attempts are capped by the retry limit
			string(e.Status),
			e.PlayerID,
			e.RemoteID,
			e.Error,
			e.Manual,
			e.DurationMs,
			e.OccurredAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to append sync event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// ListByLocalID returns the audit trail of one queue entry, oldest first
func (r *SyncEventRepository) ListByLocalID(ctx context.Context, localID string) ([]models.SyncEvent, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT local_id, attempt, status, player_id, remote_id, error, manual, duration_ms, occurred_at
		FROM sync_events
		WHERE local_id = ?
		ORDER BY occurred_at ASC
	`, localID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []models.SyncEvent
	for rows.Next() {
		var (
			e        models.SyncEvent
			attempt  uint16
			status   string
			occurred time.Time
		)
		if err := rows.Scan(&e.LocalID, &attempt, &status, &e.PlayerID, &e.RemoteID,
			&e.Error, &e.Manual, &e.DurationMs, &occurred); err != nil {
			return nil, fmt.Errorf("failed to scan sync event: %w", err)
		}
		e.Attempt = int(attempt)
		e.Status = types.SyncStatus(status)
		e.OccurredAt = occurred
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync events: %w", err)
	}
	return events, nil
}
