// Package gate decides whether a presented credential may perform an
// operation. It composes credential verification, scope checks and
// per-key rate limiting, and records an audit entry for every decision.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/internal/mailgate/store"
	"github.com/relaypost/mailgate/pkg/cryptox"
)

var (
	ErrMalformedCredential = errors.New("malformed credential")
	ErrUnknownCredential   = errors.New("unknown credential")
	ErrSecretMismatch      = errors.New("secret mismatch")
	ErrInactiveCredential  = errors.New("inactive credential")
	ErrInsufficientScope   = errors.New("insufficient scope")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
	ErrRateLimited         = errors.New("rate limited")
)

const (
	defaultCacheTTL = 3 * time.Second

	// After this many consecutive secret mismatches a key is locked out
	// from further verification attempts until the window passes.
	maxConsecutiveFailures = 10
	failureLockout         = time.Minute
)

// ParseBearer splits a bearer token of the form "key_id:secret" on the
// first colon. Secrets may themselves contain colons.
func ParseBearer(token string) (keyID, secret string, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", ErrMalformedCredential
	}
	keyID, secret, ok := strings.Cut(token, ":")
	if !ok || keyID == "" || secret == "" {
		return keyID, "", ErrMalformedCredential
	}
	return keyID, secret, nil
}

type cacheEntry struct {
	fingerprint string
	expires     time.Time
}

type failState struct {
	count int
	since time.Time
}

// Verifier checks a key_id:secret pair against the credential store.
//
// Successful verifications are cached by secret fingerprint for a short
// TTL so the argon2 derivation is skipped on the hot path. The cache is
// invalidated whenever a key is updated or deactivated, and entries
// expire on their own regardless.
type Verifier struct {
	keys     store.APIKeys
	cacheTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cache    map[string]cacheEntry
	failures map[string]failState
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithCacheTTL overrides the verification cache TTL. A zero or negative
// TTL disables the cache.
func WithCacheTTL(ttl time.Duration) VerifierOption {
	return func(v *Verifier) { v.cacheTTL = ttl }
}

// WithVerifierClock injects a clock for tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier backed by the given credential store.
func NewVerifier(keys store.APIKeys, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:     keys,
		cacheTTL: defaultCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
		failures: make(map[string]failState),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify looks up keyID and checks secret against its stored hash in
// constant time. Unknown identifiers are run against a decoy hash so the
// caller cannot distinguish them from a mismatch by timing.
func (v *Verifier) Verify(ctx context.Context, keyID, secret string) (domain.APIKey, error) {
	key, err := v.keys.GetByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = cryptox.VerifyDecoy(secret)
			return domain.APIKey{}, ErrUnknownCredential
		}
		return domain.APIKey{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Deactivated keys are refused outright, whatever secret was
	// presented.
	if !key.Active {
		return domain.APIKey{}, ErrInactiveCredential
	}

	if v.lockedOut(keyID) {
		return domain.APIKey{}, ErrSecretMismatch
	}

	fingerprint := cryptox.FingerprintToken(secret)
	if !v.cacheHit(keyID, fingerprint) {
		if err := cryptox.VerifySecret(secret, key.SecretHash); err != nil {
			v.recordFailure(keyID)
			return domain.APIKey{}, ErrSecretMismatch
		}
		v.cacheStore(keyID, fingerprint)
	}
	v.clearFailures(keyID)

	return key, nil
}

// Invalidate drops any cached verification for keyID. Call after the
// key's secret changes or the key is deactivated.
func (v *Verifier) Invalidate(keyID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cache, keyID)
	delete(v.failures, keyID)
}

func (v *Verifier) cacheHit(keyID, fingerprint string) bool {
	if v.cacheTTL <= 0 {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cache[keyID]
	if !ok || v.now().After(entry.expires) {
		delete(v.cache, keyID)
		return false
	}
	return entry.fingerprint == fingerprint
}

func (v *Verifier) cacheStore(keyID, fingerprint string) {
	if v.cacheTTL <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[keyID] = cacheEntry{
		fingerprint: fingerprint,
		expires:     v.now().Add(v.cacheTTL),
	}
}

func (v *Verifier) lockedOut(keyID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	state, ok := v.failures[keyID]
	if !ok {
		return false
	}
	if v.now().Sub(state.since) > failureLockout {
		delete(v.failures, keyID)
		return false
	}
	return state.count >= maxConsecutiveFailures
}

func (v *Verifier) recordFailure(keyID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	state := v.failures[keyID]
	if state.count == 0 || v.now().Sub(state.since) > failureLockout {
		state = failState{since: v.now()}
	}
	state.count++
	// The lockout runs a full window from the mismatch that crossed the
	// threshold, not from the start of the streak.
	if state.count == maxConsecutiveFailures {
		state.since = v.now()
	}
	v.failures[keyID] = state
}

func (v *Verifier) clearFailures(keyID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.failures, keyID)
}
