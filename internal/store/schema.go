// Package store persists snapshots, baselines, drift reports, and the
// feedback/whitelist memory in a single SQLite database, scoped by
// tenant on every row.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// OpenDB opens (or creates) a SQLite database at path with recommended
// pragmas: WAL journal mode, synchronous=NORMAL, foreign_keys=ON,
// busy_timeout=5000.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return db, nil
}

// Store bundles the per-concern repositories over one database handle.
type Store struct {
	db *sql.DB

	Snapshots *SnapshotRepo
	Baselines *BaselineRepo
	Feedback  *FeedbackRepo
	Whitelist *WhitelistRepo
	Events    *EventRepo
}

// Open opens the database at path, applies pending migrations, and
// returns the wired repository set.
func Open(path string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:        db,
		Snapshots: NewSnapshotRepo(db),
		Baselines: NewBaselineRepo(db),
		Feedback:  NewFeedbackRepo(db),
		Whitelist: NewWhitelistRepo(db),
		Events:    NewEventRepo(db),
	}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
