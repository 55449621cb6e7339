package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "release history",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS releases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    date_window TEXT NOT NULL,
    repos TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('ok', 'failed')),
    error TEXT,
    model TEXT,
    calls INTEGER DEFAULT 0,
    tier TEXT,
    markdown TEXT,
    document TEXT,
    outfile TEXT,
    generated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS change_records (
    release_id INTEGER NOT NULL REFERENCES releases(id) ON DELETE CASCADE,
    repo TEXT NOT NULL,
    number INTEGER NOT NULL,
    title TEXT NOT NULL,
    author TEXT,
    url TEXT,
    category TEXT NOT NULL,
    area TEXT,
    is_breaking INTEGER DEFAULT 0,
    PRIMARY KEY (release_id, repo, number)
);

CREATE INDEX IF NOT EXISTS idx_releases_generated ON releases(generated_at);
CREATE INDEX IF NOT EXISTS idx_change_records_repo ON change_records(repo, number);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "index run status",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_releases_status ON releases(status)`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
