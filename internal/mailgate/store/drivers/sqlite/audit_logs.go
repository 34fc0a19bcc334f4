package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/pkg/idx"
)

type auditLogsRepo struct {
	db *sql.DB
}

func (r *auditLogsRepo) Append(ctx context.Context, rec domain.AuditRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, key_id, decision, reason, operation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID.String(),
		rec.KeyID,
		string(rec.Decision),
		string(rec.Reason),
		rec.Operation,
		formatTime(rec.CreatedAt),
	)
	return err
}

func (r *auditLogsRepo) ListByKeyID(ctx context.Context, keyID string, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, key_id, decision, reason, operation, created_at
		 FROM audit_logs WHERE key_id = ?
		 ORDER BY created_at DESC LIMIT ?`, keyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var (
			rec       domain.AuditRecord
			id        string
			decision  string
			reason    string
			createdAt string
		)
		if err := rows.Scan(&id, &rec.KeyID, &decision, &reason, &rec.Operation, &createdAt); err != nil {
			return nil, err
		}
		rec.ID = idx.ID(id)
		rec.Decision = domain.Decision(decision)
		rec.Reason = domain.AuditReason(reason)
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *auditLogsRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
