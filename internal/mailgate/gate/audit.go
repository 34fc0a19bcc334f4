package gate

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/internal/mailgate/store"
	"github.com/relaypost/mailgate/pkg/idx"
	"github.com/relaypost/mailgate/pkg/slogx"
)

// Recorder writes audit entries synchronously to the audit log store.
//
// A sink failure never blocks or fails the authorization decision that
// produced the record: the record is logged and counted as dropped
// instead, and the dropped counter is surfaced through the readiness
// endpoint.
type Recorder struct {
	logs    store.AuditLogs
	dropped atomic.Uint64
}

// NewRecorder creates a Recorder backed by the given audit log store.
func NewRecorder(logs store.AuditLogs) *Recorder {
	return &Recorder{logs: logs}
}

// Record appends one audit entry, filling in the ID and timestamp if
// unset.
func (r *Recorder) Record(ctx context.Context, rec domain.AuditRecord) {
	if rec.ID.IsZero() {
		rec.ID = idx.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := r.logs.Append(ctx, rec); err != nil {
		r.dropped.Add(1)
		slogx.FromContext(ctx).Warn("audit record dropped",
			slog.String("key_id", rec.KeyID),
			slog.String("reason", string(rec.Reason)),
			slog.Any("error", err),
		)
	}
}

// Dropped reports how many audit records failed to persist since start.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}
