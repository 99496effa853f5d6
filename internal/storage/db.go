// Package storage is the sole writer of the queue, history, and usage
// tables backing the persistent playlist and play-count ledger.
package storage

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"airwaves/internal/logging"
)

var log = logging.For("storage")

//go:embed schema.sql
var schemaSQL string

// DB holds the shared SQLite connection.
type DB struct {
	*sql.DB
}

// Open connects to the database at path, creating its directory and
// schema if needed, and enabling WAL mode for concurrent readers.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// A single shared connection avoids "database is locked" errors from
	// modernc.org/sqlite under WAL with concurrent writers from this
	// process; the store-level mutex (see queue_store.go) already
	// serializes writes above this layer.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	log.Printf("database opened at %s", path)
	return &DB{DB: sqlDB}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
