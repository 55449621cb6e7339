package database

import (
	"database/sql"
	"fmt"
	"strings"
)

const releaseColumns = `id, title, date_window, repos, status, error, model, calls, tier,
	markdown, document, outfile, generated_at`

// InsertRelease stores a run together with its change records in one
// transaction and returns the new release ID.
func (db *DB) InsertRelease(r *Release, records []ChangeRecord) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO releases
		(title, date_window, repos, status, error, model, calls, tier, markdown, document, outfile)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Title, r.Window, strings.Join(r.Repos, ","), r.Status, r.Error, r.Model,
		r.Calls, r.Tier, r.Markdown, r.Document, r.Outfile,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting release: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, cr := range records {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO change_records
			(release_id, repo, number, title, author, url, category, area, is_breaking)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, cr.Repo, cr.Number, cr.Title, cr.Author, cr.URL, cr.Category, cr.Area, boolToInt(cr.IsBreaking),
		); err != nil {
			return 0, fmt.Errorf("inserting change record %s#%d: %w", cr.Repo, cr.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// GetRelease returns a release by ID, or nil when it does not exist.
func (db *DB) GetRelease(id int64) (*Release, error) {
	row := db.conn.QueryRow("SELECT "+releaseColumns+" FROM releases WHERE id = ?", id)
	r, err := scanRelease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// GetLatestRelease returns the newest successful release, or nil.
func (db *DB) GetLatestRelease() (*Release, error) {
	row := db.conn.QueryRow(
		"SELECT "+releaseColumns+" FROM releases WHERE status = ? ORDER BY id DESC LIMIT 1", StatusOK,
	)
	r, err := scanRelease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListReleases returns runs newest first. A limit <= 0 returns all of them.
func (db *DB) ListReleases(limit int) ([]Release, error) {
	query := "SELECT " + releaseColumns + " FROM releases ORDER BY id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var releases []Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		releases = append(releases, *r)
	}
	return releases, rows.Err()
}

// GetChangeRecords returns the records of a release ordered by repo and
// number.
func (db *DB) GetChangeRecords(releaseID int64) ([]ChangeRecord, error) {
	rows, err := db.conn.Query(
		`SELECT release_id, repo, number, title, author, url, category, area, is_breaking
		FROM change_records WHERE release_id = ? ORDER BY repo, number`, releaseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ChangeRecord
	for rows.Next() {
		var cr ChangeRecord
		var breaking int
		if err := rows.Scan(&cr.ReleaseID, &cr.Repo, &cr.Number, &cr.Title, &cr.Author,
			&cr.URL, &cr.Category, &cr.Area, &breaking); err != nil {
			return nil, err
		}
		cr.IsBreaking = breaking == 1
		records = append(records, cr)
	}
	return records, rows.Err()
}

// CategoryCounts returns the number of records per category for a release.
func (db *DB) CategoryCounts(releaseID int64) (map[string]int, error) {
	rows, err := db.conn.Query(
		"SELECT category, COUNT(*) FROM change_records WHERE release_id = ? GROUP BY category", releaseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		counts[cat] = n
	}
	return counts, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM releases WHERE status = 'ok'", &s.Releases},
		{"SELECT COUNT(*) FROM releases WHERE status = 'failed'", &s.FailedRuns},
		{"SELECT COUNT(*) FROM change_records", &s.ChangeRecords},
		{"SELECT COUNT(DISTINCT repo) FROM change_records", &s.Repos},
		{"SELECT COUNT(*) FROM change_records WHERE is_breaking = 1", &s.BreakingChange},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	if err := db.conn.QueryRow("SELECT MAX(generated_at) FROM releases").Scan(&s.LastGenerated); err != nil {
		return nil, err
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRelease(row scanner) (*Release, error) {
	var r Release
	var repos string
	if err := row.Scan(&r.ID, &r.Title, &r.Window, &repos, &r.Status, &r.Error, &r.Model,
		&r.Calls, &r.Tier, &r.Markdown, &r.Document, &r.Outfile, &r.GeneratedAt); err != nil {
		return nil, err
	}
	if repos != "" {
		r.Repos = strings.Split(repos, ",")
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
