// Package store keeps the cache index: a SQLite database next to the cache
// tables recording runs, the files each run wrote and the items it skipped.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store represents the cache index
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Workers record tables concurrently; SQLite wants a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SQLiteVersion returns the SQLite version string
func SQLiteVersion() string {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return ""
	}
	defer db.Close()

	var version string
	err = db.QueryRow("SELECT sqlite_version()").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

// CheckIntegrity runs PRAGMA integrity_check on the database
func (s *Store) CheckIntegrity() error {
	var result string
	err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// migrations[v] brings the schema from version v to v+1
var migrations = []string{schemaV1}

// SchemaVersion returns the applied schema version, 0 for a new database
func (s *Store) SchemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name = 'schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// migrate applies the migrations past the current version in one transaction
func (s *Store) migrate() error {
	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	return s.Transaction(func(tx *sql.Tx) error {
		for v := version; v < len(migrations); v++ {
			if _, err := tx.Exec(migrations[v]); err != nil {
				return fmt.Errorf("failed to apply schema v%d: %w", v+1, err)
			}
			if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, v+1); err != nil {
				return fmt.Errorf("failed to set schema version: %w", err)
			}
		}
		return nil
	})
}

// Transaction executes a function within a transaction
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Run status values
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunPartial = "partial"
	RunFailed  = "failed"
)

// Run kinds
const (
	KindLoad = "load"
	KindECG  = "ecg"
)

// Run is one load or ecg invocation
type Run struct {
	ID          int64
	Kind        string
	ExportPath  string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	Workouts    int
	RecordTypes int
	Skipped     int
	Error       string
	EventLog    string
}

// TableEntry is one cache file written by a run
type TableEntry struct {
	Name      string
	ItemID    string
	Path      string
	Rows      int
	Columns   int
	Bytes     int64
	SHA1      string
	RunID     int64
	WrittenAt time.Time
}

// SkippedItem is an item a run dropped
type SkippedItem struct {
	ID          int64
	RunID       int64
	Stage       string
	Item        string
	WorkoutUUID string
	Error       string
}
