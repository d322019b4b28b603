// Package history records quota snapshots to a local sqlite database.
// The core keeps only the latest snapshot in memory; this recorder is
// an optional subscriber for users who want trends.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Dicklesworthstone/qwatch/internal/quota"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at   TIMESTAMP NOT NULL,
	plan       TEXT NOT NULL DEFAULT '',
	model_id   TEXT NOT NULL,
	label      TEXT NOT NULL,
	percentage INTEGER NOT NULL,
	exhausted  INTEGER NOT NULL,
	reset_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);
`

// Store persists snapshots to sqlite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores every model row of a snapshot.
func (s *Store) Record(snap quota.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO snapshots (taken_at, plan, model_id, label, percentage, exhausted, reset_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, m := range snap.Models {
		exhausted := 0
		if m.IsExhausted {
			exhausted = 1
		}
		if _, err := stmt.Exec(snap.TakenAt, snap.Plan, m.ID, m.Label, m.Percentage, exhausted, m.ResetAt); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Entry is one recorded model-quota row.
type Entry struct {
	TakenAt    time.Time
	Plan       string
	ModelID    string
	Label      string
	Percentage int
	Exhausted  bool
	ResetAt    time.Time
}

// Recent returns the most recent rows, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT taken_at, plan, model_id, label, percentage, exhausted, reset_at
		FROM snapshots ORDER BY taken_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var exhausted int
		if err := rows.Scan(&e.TakenAt, &e.Plan, &e.ModelID, &e.Label, &e.Percentage, &exhausted, &e.ResetAt); err != nil {
			return nil, err
		}
		e.Exhausted = exhausted != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes rows older than the cutoff and returns how many were
// removed.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM snapshots WHERE taken_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
