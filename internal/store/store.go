package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/endarthur/holocene-sub000/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the single durable state of the daemon: an embedded SQLite
// database behind typed operations. Callers never see raw transactions.
//
// Writes are serialized by capping the pool at one connection; SQLite
// readers ride the same connection, which is plenty for a single-user
// daemon and sidesteps SQLITE_BUSY entirely.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. Foreign keys and WAL are enforced via DSN pragmas.
func Open(path string, logger logging.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logging.OrNop(logger)}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database. Safe to call once.
func (s *Store) Close() error {
	return s.db.Close()
}
