// Package journal keeps a SQLite record of every file a sort run placed, so an
// interrupted or partial run can be inspected afterwards.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/acm19/sortdate/internal/pics"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	source_dir TEXT NOT NULL,
	dest_dir TEXT NOT NULL,
	action TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS placements (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	source TEXT NOT NULL,
	destination TEXT NOT NULL,
	capture_date TEXT NOT NULL,
	place TEXT NOT NULL DEFAULT '',
	placed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_placements_run ON placements(run_id);`

// Entry is one recorded placement.
type Entry struct {
	RunID       int64
	Action      string
	Source      string
	Destination string
	CaptureDate string
	Place       string
	PlacedAt    time.Time
}

// Journal records placements of one run. It implements pics.PlacementRecorder.
type Journal struct {
	db    *sql.DB
	runID int64
	now   func() time.Time
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise journal %s: %w", path, err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginRun starts a new run; subsequent placements are attached to it.
func (j *Journal) BeginRun(ctx context.Context, sourceDir, destDir string, action pics.Action) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, source_dir, dest_dir, action) VALUES (?, ?, ?, ?)`,
		j.now().UTC().Format(time.RFC3339), sourceDir, destDir, action.String())
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	j.runID = id
	return id, nil
}

// RecordPlacement stores p under the current run.
func (j *Journal) RecordPlacement(ctx context.Context, p pics.Placement) error {
	if j.runID == 0 {
		return fmt.Errorf("no run started")
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO placements (run_id, source, destination, capture_date, place, placed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		j.runID, p.Source, p.Destination, p.CaptureDate, p.Place, j.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record placement of %s: %w", p.Source, err)
	}
	return nil
}

// Recent returns the latest placements, newest first. limit <= 0 means all.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `
SELECT p.run_id, r.action, p.source, p.destination, p.capture_date, p.place, p.placed_at
FROM placements p JOIN runs r ON r.id = p.run_id
ORDER BY p.id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var placedAt string
		if err := rows.Scan(&e.RunID, &e.Action, &e.Source, &e.Destination, &e.CaptureDate, &e.Place, &placedAt); err != nil {
			return nil, err
		}
		e.PlacedAt, _ = time.Parse(time.RFC3339, placedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
