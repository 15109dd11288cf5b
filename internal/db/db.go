// Package db provides the SQLite cache for fetched event payloads.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"traceview/internal/models"
)

// ErrCacheMiss is returned by LoadEvent when no fresh payload is stored.
var ErrCacheMiss = errors.New("event not cached")

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
	path string
	ttl  time.Duration
	now  func() time.Time
}

// New opens the database at dbPath. Cached events older than ttl are treated
// as missing; a zero ttl keeps them forever.
func New(dbPath string, ttl time.Duration) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:   db,
		path: dbPath,
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			org TEXT NOT NULL,
			project TEXT NOT NULL,
			event_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			fetched_at DATETIME NOT NULL,
			PRIMARY KEY (org, project, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_fetched ON events(fetched_at)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// SaveEvent stores or replaces the payload of an event.
func (db *DB) SaveEvent(ctx context.Context, org, project string, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.EventID, err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events (org, project, event_id, payload, fetched_at) VALUES (?, ?, ?, ?, ?)`,
		org, project, event.EventID, string(payload), db.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save event %s: %w", event.EventID, err)
	}
	return nil
}

// LoadEvent returns a cached event, or ErrCacheMiss when it is absent or expired.
func (db *DB) LoadEvent(ctx context.Context, org, project, eventID string) (*models.Event, error) {
	var (
		payload   string
		fetchedAt time.Time
	)
	err := db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM events WHERE org = ? AND project = ? AND event_id = ?`,
		org, project, eventID).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", eventID, err)
	}

	if db.ttl > 0 && db.now().Sub(fetchedAt) > db.ttl {
		return nil, ErrCacheMiss
	}

	var event models.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("failed to decode cached event %s: %w", eventID, err)
	}
	return &event, nil
}

// Prune deletes events fetched before the TTL window and returns how many were removed.
func (db *DB) Prune(ctx context.Context) (int64, error) {
	if db.ttl <= 0 {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `DELETE FROM events WHERE fetched_at < ?`, db.now().UTC().Add(-db.ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
