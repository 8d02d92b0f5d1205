// Package localstore is the on-device durable store. It keeps the offline
// write queue and the last-known snapshots of remote players and observations
// in a single SQLite file that survives process restarts.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	apperrors "github.com/scout-sync/internal/errors"
	"github.com/scout-sync/internal/logging"
	_ "modernc.org/sqlite"
)

// Collection names a logical table of the store
type Collection string

const (
	CollectionOffline      Collection = "offline_observations"
	CollectionPlayers      Collection = "cached_players"
	CollectionObservations Collection = "cached_observations"
)

// ChangeEvent describes a committed mutation of the offline collection
type ChangeEvent struct {
	Collection Collection
	LocalIDs   []string
}

// Store wraps the SQLite database
type Store struct {
	db     *sql.DB
	path   string
	logger *logging.Logger

	// writeMu serializes writers so read-modify-write updates never interleave
	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[int]func(ChangeEvent)
	nextID      int
}

// Open opens (or creates) the store at path and bootstraps its schema
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewLocalStoreError("open", err)
	}

	// One connection keeps every statement on the same SQLite handle and
	// removes SQLITE_BUSY between our own readers and writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, apperrors.NewLocalStoreError("open", fmt.Errorf("%s: %w", pragma, err))
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, apperrors.NewLocalStoreError("bootstrap schema", err)
	}

	s := &Store{
		db:        db,
		path:      path,
		logger:    logging.WithComponent("localstore"),
		listeners: make(map[int]func(ChangeEvent)),
	}
	s.logger.WithField("path", path).Info("Local store opened")
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return apperrors.NewLocalStoreError("close", err)
	}
	return nil
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Health checks the database connection
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewLocalStoreError("ping", err)
	}
	return nil
}

// OnChange registers fn to be called after every committed mutation of the
// offline collection. fn runs on the writer's goroutine after the write lock
// is released. The returned func unregisters it.
func (s *Store) OnChange(fn func(ChangeEvent)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify(ev ChangeEvent) {
	s.listenersMu.RLock()
	fns := make([]func(ChangeEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// withTx runs fn in a write transaction under the store write lock
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewLocalStoreError(op, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if _, ok := err.(*apperrors.CategorizedError); ok {
			return err
		}
		return apperrors.NewLocalStoreError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewLocalStoreError(op, err)
	}
	return nil
}
