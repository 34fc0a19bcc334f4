package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/internal/mailgate/ratelimit"
	"github.com/relaypost/mailgate/internal/mailgate/store"
	"github.com/relaypost/mailgate/pkg/slogx"
)

// TokenVerifier validates a signed access token and reports the key it
// was minted for. Implemented by the token service.
type TokenVerifier interface {
	VerifyAccessToken(token string) (keyID string, scopes []domain.Scope, err error)
}

// RateLimitError is returned by Authorize when a request is denied by
// the per-key rate limiter. It unwraps to ErrRateLimited.
type RateLimitError struct {
	Window     string
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s window), retry after %ds", e.Window, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// AccountResolver decrypts a key's email account override. Implemented
// by the API key service.
type AccountResolver interface {
	ResolveEmailAccount(key domain.APIKey) (domain.EmailAccount, error)
}

// Grant is the result of a successful authorization. It carries the
// verified key, the resolved email account (zero when the key has no
// override and the system default applies) and the rate budget left in
// the current windows.
type Grant struct {
	Key             domain.APIKey
	Account         domain.EmailAccount
	RemainingMinute int
	RemainingHour   int
}

// Gate authorizes operations against verified credentials. Every call
// to Authorize produces exactly one audit record, allowed or denied.
type Gate struct {
	verifier *Verifier
	tokens   TokenVerifier
	limiter  *ratelimit.Limiter
	audit    *Recorder
	keys     store.APIKeys
	accounts AccountResolver
}

// New creates a Gate. tokens and accounts may be nil: without tokens,
// bearer values lacking a colon are rejected as malformed; without
// accounts, grants carry a zero account and the system default sender
// applies.
func New(verifier *Verifier, tokens TokenVerifier, limiter *ratelimit.Limiter, audit *Recorder, keys store.APIKeys, accounts AccountResolver) *Gate {
	return &Gate{
		verifier: verifier,
		tokens:   tokens,
		limiter:  limiter,
		audit:    audit,
		keys:     keys,
		accounts: accounts,
	}
}

// Verifier exposes the underlying credential verifier so the key
// service can invalidate cached verifications on update.
func (g *Gate) Verifier() *Verifier { return g.verifier }

// Audit exposes the audit recorder for health reporting.
func (g *Gate) Audit() *Recorder { return g.audit }

// Authorize decides whether the bearer credential may perform the named
// operation with the required scope. An empty required scope means any
// verified key qualifies. On denial the returned error is one of the
// package sentinels (or a *RateLimitError); the denial is audited
// before returning. Denied requests are never charged against the rate
// windows.
func (g *Gate) Authorize(ctx context.Context, bearer, operation string, required domain.Scope) (Grant, error) {
	key, err := g.authenticate(ctx, bearer)
	if err != nil {
		keyID := auditKeyID(bearer)
		g.deny(ctx, keyID, operation, reasonFor(err))
		return Grant{}, err
	}

	if required != "" && !key.HasScope(required) {
		g.deny(ctx, key.KeyID, operation, domain.ReasonInsufficientScope)
		return Grant{}, ErrInsufficientScope
	}

	decision := g.limiter.CheckAndConsume(key.KeyID, ratelimit.Limits{
		PerMinute: key.RateLimitPerMinute,
		PerHour:   key.RateLimitPerHour,
	})
	if !decision.Allowed {
		g.deny(ctx, key.KeyID, operation, domain.ReasonRateLimited)
		return Grant{}, &RateLimitError{Window: decision.Window, RetryAfter: decision.RetryAfter}
	}

	account := g.resolveAccount(ctx, key)

	g.audit.Record(ctx, domain.AuditRecord{
		KeyID:     key.KeyID,
		Decision:  domain.DecisionAllow,
		Reason:    domain.ReasonOK,
		Operation: operation,
	})
	if err := g.keys.TouchLastUsed(ctx, key.KeyID, time.Now().UTC()); err != nil {
		slogx.FromContext(ctx).Warn("touch last_used failed",
			"key_id", key.KeyID, "error", err)
	}

	return Grant{
		Key:             key,
		Account:         account,
		RemainingMinute: decision.RemainingMinute,
		RemainingHour:   decision.RemainingHour,
	}, nil
}

func (g *Gate) authenticate(ctx context.Context, bearer string) (domain.APIKey, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return domain.APIKey{}, ErrMalformedCredential
	}

	if !strings.Contains(bearer, ":") {
		return g.authenticateToken(ctx, bearer)
	}

	keyID, secret, err := ParseBearer(bearer)
	if err != nil {
		return domain.APIKey{}, err
	}
	return g.verifier.Verify(ctx, keyID, secret)
}

func (g *Gate) authenticateToken(ctx context.Context, token string) (domain.APIKey, error) {
	if g.tokens == nil {
		return domain.APIKey{}, ErrMalformedCredential
	}
	keyID, _, err := g.tokens.VerifyAccessToken(token)
	if err != nil {
		return domain.APIKey{}, ErrMalformedCredential
	}
	key, err := g.keys.GetByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.APIKey{}, ErrUnknownCredential
		}
		return domain.APIKey{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !key.Active {
		return domain.APIKey{}, ErrInactiveCredential
	}
	return key, nil
}

// resolveAccount decrypts the key's account override. A corrupt blob is
// logged and the default sender applies rather than failing an
// otherwise valid request.
func (g *Gate) resolveAccount(ctx context.Context, key domain.APIKey) domain.EmailAccount {
	if g.accounts == nil || len(key.EmailOverride) == 0 {
		return domain.EmailAccount{}
	}
	account, err := g.accounts.ResolveEmailAccount(key)
	if err != nil {
		slogx.FromContext(ctx).Warn("email account override unreadable",
			"key_id", key.KeyID, "error", err)
		return domain.EmailAccount{}
	}
	return account
}

func (g *Gate) deny(ctx context.Context, keyID, operation string, reason domain.AuditReason) {
	g.audit.Record(ctx, domain.AuditRecord{
		KeyID:     keyID,
		Decision:  domain.DecisionDeny,
		Reason:    reason,
		Operation: operation,
	})
}

// auditKeyID extracts the key identifier portion of a bearer value for
// audit purposes. Unparseable values are recorded as "unknown".
func auditKeyID(bearer string) string {
	bearer = strings.TrimSpace(bearer)
	keyID, _, ok := strings.Cut(bearer, ":")
	if !ok || keyID == "" {
		return domain.UnknownKeyID
	}
	return keyID
}

func reasonFor(err error) domain.AuditReason {
	switch {
	case errors.Is(err, ErrUnknownCredential):
		return domain.ReasonUnknownIdentifier
	case errors.Is(err, ErrSecretMismatch):
		return domain.ReasonSecretMismatch
	case errors.Is(err, ErrInactiveCredential):
		return domain.ReasonInactive
	case errors.Is(err, ErrStoreUnavailable):
		return domain.ReasonStoreUnavailable
	default:
		return domain.ReasonBadFormat
	}
}
