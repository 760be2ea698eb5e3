// Package nvd mirrors the three NVD feeds into SQLite and exposes them
// through the repository ports.
package nvd

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the shared NVD mirror database.
type DB struct {
	db *sql.DB
}

// Open opens the mirror database and initializes the schema.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// SyncStatus records one feed import.
type SyncStatus struct {
	Feed        string
	LastSync    time.Time
	RecordCount int
	Error       string
}

// UpdateSyncStatus upserts the per-feed import bookkeeping.
func (d *DB) UpdateSyncStatus(status SyncStatus) error {
	_, err := d.db.Exec(`
		INSERT INTO sync_status (feed, last_sync, record_count, error)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(feed) DO UPDATE SET
			last_sync = excluded.last_sync,
			record_count = excluded.record_count,
			error = excluded.error
	`, status.Feed, status.LastSync.UTC().Format(time.RFC3339), status.RecordCount, status.Error)
	return err
}

// SyncStatuses returns the bookkeeping for every imported feed.
func (d *DB) SyncStatuses() ([]SyncStatus, error) {
	rows, err := d.db.Query(`SELECT feed, last_sync, record_count, COALESCE(error, '') FROM sync_status ORDER BY feed`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncStatus
	for rows.Next() {
		var s SyncStatus
		var last string
		if err := rows.Scan(&s.Feed, &last, &s.RecordCount, &s.Error); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, last); err == nil {
			s.LastSync = t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
