// Package database provides SQLite connection management, migrations, and a
// transaction manager shared by the credential and statistics stores.
//
// The credential store is process-exclusive (§5): a single writer connection
// avoids "database is locked" contention under SQLite's WAL mode. A small
// reader pool is opened alongside it; the credential and statistics stores
// run every query, reads included, through the writer.
package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB holds dual reader/writer connections against the same SQLite file.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	path   string
}

// Connect opens a WAL-mode SQLite database at path with a single writer
// connection and a small reader pool.
func Connect(path string) (*DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader, path: path}, nil
}

// Path returns the SQLite file path this DB was opened against.
func (db *DB) Path() string {
	return db.path
}

// Close closes both reader and writer connections. Returns the first error encountered.
func (db *DB) Close() error {
	var firstErr error

	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}

	if err := db.Writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}

	return firstErr
}
