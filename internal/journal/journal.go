// Package journal persists flush history to SQLite so the control
// API can report what the daemon has been doing.
package journal

import (
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cmux-cli/sandsync/internal/sync"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS flushes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    workspace   TEXT NOT NULL,
    started_at  INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    uploaded    INTEGER NOT NULL,
    deleted     INTEGER NOT NULL,
    outcome     TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_flushes_workspace
    ON flushes(workspace, started_at);
`

// Journal manages a write connection and a read-only pool.
type Journal struct {
	writer *sql.DB
	reader *sql.DB
	mu     gosync.Mutex // serializes writes
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open creates or opens the journal database at the given path.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if _, err := writer.Exec(schemaSQL); err != nil {
		writer.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	return &Journal{writer: writer, reader: reader}, nil
}

// Close closes both connections.
func (j *Journal) Close() error {
	werr := j.writer.Close()
	rerr := j.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// RecordFlush stores one flush attempt. It satisfies the engine's
// recorder interface and must never slow a flush down, so insert
// failures are logged rather than returned.
func (j *Journal) RecordFlush(rec sync.FlushRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.writer.Exec(`
		INSERT INTO flushes
		    (workspace, started_at, duration_ms,
		     uploaded, deleted, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Workspace,
		rec.StartedAt.UnixMilli(),
		rec.Duration.Milliseconds(),
		rec.Uploaded,
		rec.Deleted,
		rec.Outcome,
		rec.Err,
	)
	if err != nil {
		log.Printf("journal: recording flush: %v", err)
	}
}

// Entry is one recorded flush attempt.
type Entry struct {
	ID         int64     `json:"id"`
	Workspace  string    `json:"workspace"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Uploaded   int       `json:"uploaded"`
	Deleted    int       `json:"deleted"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

// Recent returns the newest flush entries, optionally filtered by
// workspace. limit caps the result; values outside 1-500 are
// clamped.
func (j *Journal) Recent(workspace string, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT id, workspace, started_at, duration_ms,
		       uploaded, deleted, outcome, error
		FROM flushes`
	args := []any{}
	if workspace != "" {
		query += ` WHERE workspace = ?`
		args = append(args, workspace)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.reader.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying flushes: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var startedAt int64
		if err := rows.Scan(
			&e.ID, &e.Workspace, &startedAt, &e.DurationMS,
			&e.Uploaded, &e.Deleted, &e.Outcome, &e.Error,
		); err != nil {
			return nil, fmt.Errorf("scanning flush row: %w", err)
		}
		e.StartedAt = time.UnixMilli(startedAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats aggregates flush totals by outcome.
type Stats struct {
	Flushes       int64 `json:"flushes"`
	Succeeded     int64 `json:"succeeded"`
	Failed        int64 `json:"failed"`
	Unavailable   int64 `json:"unavailable"`
	FilesUploaded int64 `json:"files_uploaded"`
	FilesDeleted  int64 `json:"files_deleted"`
}

// Totals returns aggregate counters over the whole journal.
func (j *Journal) Totals() (Stats, error) {
	var s Stats
	err := j.reader.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(outcome = 'ok'), 0),
		       COALESCE(SUM(outcome = 'error'), 0),
		       COALESCE(SUM(outcome = 'unavailable'), 0),
		       COALESCE(SUM(uploaded), 0),
		       COALESCE(SUM(deleted), 0)
		FROM flushes`,
	).Scan(
		&s.Flushes, &s.Succeeded, &s.Failed,
		&s.Unavailable, &s.FilesUploaded, &s.FilesDeleted,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("querying totals: %w", err)
	}
	return s, nil
}
