package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/revlog/internal/audit"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on changes.action for the CLI's filtered listings
const currentSchemaVersion = 1

// Clock returns the timestamp assigned to a change with no CreatedAt.
type Clock func() time.Time

// Store provides durable storage for change history.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db    *sql.DB
	clock Clock
	owned bool

	mu   sync.Mutex
	last time.Time // high-water mark of assigned timestamps
}

var _ audit.ChangeStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp changes.
// Default: time.Now in UTC.
func WithClock(c Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an already opened SQLite handle, for hosts that share one
// database between their records and the change history (for example a
// gorm connection). Pool settings are left to the caller.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if err := applyPragmas(db); err != nil {
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:    db,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	var lastNanos int64
	if err := db.QueryRow("SELECT COALESCE(MAX(created_at), 0) FROM changes").Scan(&lastNanos); err != nil {
		return nil, fmt.Errorf("failed to read high-water timestamp: %w", err)
	}
	if lastNanos > 0 {
		s.last = time.Unix(0, lastNanos).UTC()
	}
	return s, nil
}

// Close closes the database connection if Open created it.
func (s *Store) Close() error {
	if s.db == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// stamp returns the timestamp for a new change. Caller-supplied timestamps
// are kept; assigned ones never go below the high-water mark.
func (s *Store) stamp(requested time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := requested
	if t.IsZero() {
		t = s.clock().UTC()
		if t.Before(s.last) {
			t = s.last
		}
	}
	if t.After(s.last) {
		s.last = t
	}
	return t
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the action index.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_changes_action
		ON changes(item_type, action)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
