package localstore

// Times are stored as unix nanoseconds (UTC) so range filters and ordering
// stay numeric.
const schema = `
CREATE TABLE IF NOT EXISTS offline_observations (
	local_id          TEXT PRIMARY KEY,
	remote_id         TEXT NOT NULL DEFAULT '',
	data              TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	sync_status       TEXT NOT NULL,
	sync_attempts     INTEGER NOT NULL DEFAULT 0,
	sync_error        TEXT NOT NULL DEFAULT '',
	last_sync_attempt INTEGER
);

CREATE INDEX IF NOT EXISTS idx_offline_observations_sync_status ON offline_observations(sync_status);
CREATE INDEX IF NOT EXISTS idx_offline_observations_created_at ON offline_observations(created_at);

CREATE TABLE IF NOT EXISTS cached_players (
	id        TEXT PRIMARY KEY,
	data      TEXT NOT NULL,
	cached_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cached_players_cached_at ON cached_players(cached_at);

CREATE TABLE IF NOT EXISTS cached_observations (
	id        TEXT PRIMARY KEY,
	data      TEXT NOT NULL,
	cached_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cached_observations_cached_at ON cached_observations(cached_at);
`
