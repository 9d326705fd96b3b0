package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version once schema.sql has been
// applied. Bump it, and teach Open the upgrade, when schema.sql changes.
const schemaVersion = 1

// Store persists document snapshots and forwarded batches.
//
// Writes come from edit goroutines after the document lock is released, so
// several documents may save at once. The pool is a single connection and
// every statement is short.
type Store struct {
	db *sql.DB
}

// connParams are handed to the driver in the DSN so every connection it
// opens gets them:
//   - WAL, so replay and history reads do not block snapshot writes
//   - synchronous=NORMAL; history is best effort and a lost tail is
//     reported as a gap by replay
//   - busy_timeout, for a second process (stagehand replay) reading a live db
//   - foreign_keys, so deleting a document drops its history
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"1"},
}

// Open opens (creating if needed) the database at path and makes sure its
// schema is current. A database written by a newer schema is refused.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) init() error {
	version, err := s.pragma("user_version")
	if err != nil {
		return err
	}
	switch version {
	case "0":
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.Exec(schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("mark schema version: %w", err)
		}
		return tx.Commit()
	case fmt.Sprint(schemaVersion):
		return nil
	default:
		return fmt.Errorf("schema version %s is not supported (want %d)", version, schemaVersion)
	}
}

// Close releases the database. Closing a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection pool, for tests and maintenance tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// pragma reads the current value of a pragma.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}
