package localstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hray3182/habitline/internal/models"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrStorageUnavailable is returned when the durable store cannot be opened
// or written. Callers should fall back to memory-only scheduling.
var ErrStorageUnavailable = errors.New("local storage unavailable")

// Store is the SQLite-backed durable store for scheduled notification intents.
// The database is opened lazily on first use.
type Store struct {
	path string

	mu sync.Mutex
	db *sqlx.DB
}

// New returns a store for the SQLite database at path. Nothing is opened
// until the first operation.
func New(path string) *Store {
	return &Store{path: path}
}

type intentRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	TargetAt  string `db:"target_at"`
	Options   string `db:"options"`
	CreatedAt string `db:"created_at"`
}

// open initialises the database once. Concurrent callers block on the mutex
// and share the same handle; a failed attempt is retried on the next call.
func (s *Store) open(ctx context.Context) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	db, err := sqlx.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, s.path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %v", ErrStorageUnavailable, err)
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	return db, nil
}

func createTables(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			target_at  TEXT NOT NULL,
			options    TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: create notifications table: %v", ErrStorageUnavailable, err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: create settings table: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Close closes the underlying database if it was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Put inserts or replaces an intent by its id.
func (s *Store) Put(ctx context.Context, intent models.ScheduledIntent) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	options, err := json.Marshal(intent.Options)
	if err != nil {
		return fmt.Errorf("marshal options for %s: %w", intent.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO notifications (id, name, target_at, options, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, intent.ID, intent.Name,
		intent.TargetAt.UTC().Format(time.RFC3339Nano),
		string(options),
		intent.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrStorageUnavailable, intent.ID, err)
	}
	return nil
}

// GetAll returns every stored intent ordered by target time.
func (s *Store) GetAll(ctx context.Context) ([]models.ScheduledIntent, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	var rows []intentRow
	if err := db.SelectContext(ctx, &rows, `
		SELECT id, name, target_at, options, created_at
		FROM notifications ORDER BY target_at ASC
	`); err != nil {
		return nil, fmt.Errorf("%w: list notifications: %v", ErrStorageUnavailable, err)
	}

	intents := make([]models.ScheduledIntent, 0, len(rows))
	for _, row := range rows {
		intent := models.ScheduledIntent{ID: row.ID, Name: row.Name}
		intent.TargetAt, _ = time.Parse(time.RFC3339Nano, row.TargetAt)
		intent.CreatedAt, _ = time.Parse(time.RFC3339Nano, row.CreatedAt)
		if err := json.Unmarshal([]byte(row.Options), &intent.Options); err != nil {
			return nil, fmt.Errorf("decode options for %s: %w", row.ID, err)
		}
		intents = append(intents, intent)
	}
	return intents, nil
}

// Delete removes one intent. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorageUnavailable, id, err)
	}
	return nil
}

// DeleteAll removes every intent.
func (s *Store) DeleteAll(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM notifications`); err != nil {
		return fmt.Errorf("%w: delete all: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) getSetting(ctx context.Context, key string) (string, bool, error) {
	db, err := s.open(ctx)
	if err != nil {
		return "", false, err
	}
	var values []string
	if err := db.SelectContext(ctx, &values, `SELECT value FROM settings WHERE key = ?`, key); err != nil {
		return "", false, fmt.Errorf("%w: read setting %s: %v", ErrStorageUnavailable, key, err)
	}
	if len(values) == 0 {
		return "", false, nil
	}
	return values[0], true, nil
}

func (s *Store) setSetting(ctx context.Context, key, value string) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("%w: write setting %s: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}
