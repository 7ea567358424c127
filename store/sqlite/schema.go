// Package sqlite implements store.HashStore, store.MetaStore, and
// store.SubmissionStore over database/sql + modernc.org/sqlite, following
// the pragma-and-retry conventions of the echo cave's internal/dbopen
// package.
package sqlite

import "database/sql"

const schema = `
CREATE TABLE IF NOT EXISTS cave (
	id INTEGER PRIMARY KEY,
	channel_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	elements TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cave_status ON cave(status);
CREATE INDEX IF NOT EXISTS idx_cave_channel ON cave(channel_id);
CREATE INDEX IF NOT EXISTS idx_cave_user ON cave(user_id);

CREATE TABLE IF NOT EXISTS cave_hash (
	cave_id INTEGER NOT NULL,
	hash TEXT NOT NULL,
	type TEXT NOT NULL,
	PRIMARY KEY (cave_id, hash, type)
);
CREATE INDEX IF NOT EXISTS idx_cave_hash_type ON cave_hash(type);

CREATE TABLE IF NOT EXISTS cave_meta (
	cave_id INTEGER PRIMARY KEY,
	rating INTEGER NOT NULL,
	type TEXT NOT NULL,
	keywords TEXT NOT NULL
);
`

// Migrate creates the cave/cave_hash/cave_meta tables if they don't exist.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
