package store

import (
	"context"
	"errors"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite for
// now) implement this. The store is the sole writer of credential
// records; everything else only reads.
type Store interface {
	APIKeys() APIKeys
	AuditLogs() AuditLogs

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

type APIKeys interface {
	// GetByKeyID returns the record for a public key identifier.
	GetByKeyID(ctx context.Context, keyID string) (domain.APIKey, error)

	// List returns all records ordered by creation date (newest first).
	List(ctx context.Context) ([]domain.APIKey, error)

	// Create inserts a new record (key_id provided by the service).
	Create(ctx context.Context, k domain.APIKey) error

	// Update persists mutable fields (name, description, scopes, limits,
	// active flag, email override, updated_at) as given.
	Update(ctx context.Context, k domain.APIKey) error

	// Deactivate marks a record inactive. Records are never hard-deleted
	// in place so the audit trail stays attributable.
	Deactivate(ctx context.Context, keyID string) error

	// TouchLastUsed updates last_used_at without bumping updated_at.
	TouchLastUsed(ctx context.Context, keyID string, at time.Time) error

	// PurgeInactiveBefore physically removes records deactivated before
	// cutoff. This is the separate retention operation, run by
	// housekeeping, never by request handling.
	PurgeInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// IsEmpty reports whether no records exist (bootstrap check).
	IsEmpty(ctx context.Context) (bool, error)
}

type AuditLogs interface {
	// Append adds one decision record. The table is append-only.
	Append(ctx context.Context, rec domain.AuditRecord) error

	// ListByKeyID returns the most recent records for an identifier.
	ListByKeyID(ctx context.Context, keyID string, limit int) ([]domain.AuditRecord, error)

	// DeleteBefore removes records older than cutoff (retention).
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
