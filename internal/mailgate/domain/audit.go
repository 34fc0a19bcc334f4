package domain

import (
	"time"

	"github.com/relaypost/mailgate/pkg/idx"
)

// Decision is the terminal outcome of an authorization attempt.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// AuditReason is the machine-readable cause of a decision.
type AuditReason string

const (
	ReasonOK                AuditReason = "ok"
	ReasonBadFormat         AuditReason = "bad_format"
	ReasonUnknownIdentifier AuditReason = "unknown_identifier"
	ReasonSecretMismatch    AuditReason = "secret_mismatch"
	ReasonInactive          AuditReason = "inactive"
	ReasonInsufficientScope AuditReason = "insufficient_scope"
	ReasonRateLimited       AuditReason = "rate_limited"
	ReasonStoreUnavailable  AuditReason = "store_unavailable"
)

// UnknownKeyID is recorded when the bearer token could not be parsed, so
// no identifier was available.
const UnknownKeyID = "unknown"

// AuditRecord is one append-only row per authorization decision.
// Records are never mutated or deleted by the gate; retention is a
// housekeeping concern.
type AuditRecord struct {
	ID        idx.ID
	KeyID     string
	Decision  Decision
	Reason    AuditReason
	Operation string
	CreatedAt time.Time
}
