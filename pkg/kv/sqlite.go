package kv

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	// DBFileName is the SQLite file created inside the data directory.
	DBFileName = "pinvault.db"
	FileMode   = 0600 // Owner read/write only
	DirMode    = 0700 // Owner read/write/execute only
)

// Statements used by SQLStore.
const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`
	getSQL    = `SELECT value FROM kv WHERE key = ?`
	upsertSQL = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`
	deleteSQL = `DELETE FROM kv WHERE key = ?`
)

// SQLStore is a Store backed by a single SQLite table.
// Every call is one statement, so single-key writes are atomic.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database. The kv table must already exist;
// use OpenSQLite to create it.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenSQLite opens (creating if needed) the SQLite store in dir.
func OpenSQLite(dir string) (*SQLStore, error) {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("kv: failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dir, DBFileName)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("kv: failed to open database: %w", err)
	}

	// Single connection: the CLI is the only writer and this avoids "database is locked".
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: failed to create table: %w", err)
	}

	if err := os.Chmod(dbPath, FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: failed to set database permissions: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// Get implements Store.
func (s *SQLStore) Get(key string) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrClosed
	}
	var value string
	err := s.db.QueryRow(getSQL, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kv: failed to read %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *SQLStore) Set(key, value string) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.Exec(upsertSQL, key, value); err != nil {
		return fmt.Errorf("kv: failed to write %q: %w", key, err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLStore) Remove(key string) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.Exec(deleteSQL, key); err != nil {
		return fmt.Errorf("kv: failed to remove %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
