package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/internal/mailgate/store"
)

type apiKeysRepo struct {
	db *sql.DB
}

const apiKeyColumns = `key_id, secret_hash, name, description, scopes,
	rate_limit_per_minute, rate_limit_per_hour, is_active, email_override,
	created_at, updated_at, last_used_at`

func (r *apiKeysRepo) GetByKeyID(ctx context.Context, keyID string) (domain.APIKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_id = ?`, keyID)

	k, err := scanAPIKey(row)
	if err != nil {
		return domain.APIKey{}, mapNotFound(err)
	}
	return k, nil
}

func (r *apiKeysRepo) List(ctx context.Context) ([]domain.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *apiKeysRepo) Create(ctx context.Context, k domain.APIKey) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.KeyID,
		k.SecretHash,
		k.Name,
		k.Description,
		strings.Join(domain.ScopeStrings(k.Scopes), " "),
		k.RateLimitPerMinute,
		k.RateLimitPerHour,
		k.Active,
		k.EmailOverride,
		formatTime(k.CreatedAt),
		formatTime(k.UpdatedAt),
		formatTimePtr(k.LastUsedAt),
	)
	return mapConflict(err)
}

func (r *apiKeysRepo) Update(ctx context.Context, k domain.APIKey) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET
			name = ?, description = ?, scopes = ?,
			rate_limit_per_minute = ?, rate_limit_per_hour = ?,
			is_active = ?, email_override = ?, updated_at = ?
		 WHERE key_id = ?`,
		k.Name,
		k.Description,
		strings.Join(domain.ScopeStrings(k.Scopes), " "),
		k.RateLimitPerMinute,
		k.RateLimitPerHour,
		k.Active,
		k.EmailOverride,
		formatTime(k.UpdatedAt),
		k.KeyID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *apiKeysRepo) Deactivate(ctx context.Context, keyID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = 0, updated_at = ? WHERE key_id = ?`,
		formatTime(time.Now()), keyID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *apiKeysRepo) TouchLastUsed(ctx context.Context, keyID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE key_id = ?`,
		formatTime(at), keyID)
	return err
}

func (r *apiKeysRepo) PurgeInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE is_active = 0 AND updated_at < ?`,
		formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *apiKeysRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (domain.APIKey, error) {
	var (
		k         domain.APIKey
		scopes    string
		createdAt string
		updatedAt string
		lastUsed  sql.NullString
	)

	err := row.Scan(
		&k.KeyID,
		&k.SecretHash,
		&k.Name,
		&k.Description,
		&scopes,
		&k.RateLimitPerMinute,
		&k.RateLimitPerHour,
		&k.Active,
		&k.EmailOverride,
		&createdAt,
		&updatedAt,
		&lastUsed,
	)
	if err != nil {
		return domain.APIKey{}, err
	}

	parsed, err := domain.ParseScopes(strings.Fields(scopes))
	if err != nil {
		return domain.APIKey{}, err
	}
	k.Scopes = parsed
	k.CreatedAt = parseTime(createdAt)
	k.UpdatedAt = parseTime(updatedAt)
	k.LastUsedAt = parseTimePtr(lastUsed)

	return k, nil
}
