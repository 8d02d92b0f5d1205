package storage

// Remote is the remote store seen by the synchronizer and the read cache
type Remote struct {
	*PlayerRepository
	*ObservationRepository
	db *PostgresDB
}

// NewRemote builds both repositories on one pool
func NewRemote(db *PostgresDB) *Remote {
	return &Remote{
		PlayerRepository:      NewPlayerRepository(db),
		ObservationRepository: NewObservationRepository(db),
		db:                    db,
	}
}

// DB returns the underlying pool wrapper
func (r *Remote) DB() *PostgresDB {
	return r.db
}
