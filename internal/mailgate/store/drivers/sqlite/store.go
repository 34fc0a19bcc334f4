package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/store"

	_ "modernc.org/sqlite"
)

// timeFormat is how timestamps are stored; RFC3339Nano keeps lexical
// ordering consistent with chronological ordering.
const timeFormat = time.RFC3339Nano

type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dsn. Pass ":memory:" for
// an ephemeral store in tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Single writer avoids "database is locked" under concurrency; the
	// gate's hot path is the in-memory limiter, not the store.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(),
		`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) APIKeys() store.APIKeys     { return &apiKeysRepo{db: s.db} }
func (s *Store) AuditLogs() store.AuditLogs { return &auditLogsRepo{db: s.db} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapConflict(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
