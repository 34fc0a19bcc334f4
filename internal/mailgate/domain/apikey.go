package domain

import (
	"fmt"
	"time"
)

// Scope is a named permission bucket attached to an API key.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// scopeGrants encodes which scopes each held scope satisfies. Admin is a
// strict superset of read and write; read and write only satisfy themselves.
var scopeGrants = map[Scope]map[Scope]struct{}{
	ScopeRead:  {ScopeRead: {}},
	ScopeWrite: {ScopeWrite: {}},
	ScopeAdmin: {ScopeRead: {}, ScopeWrite: {}, ScopeAdmin: {}},
}

// Satisfies reports whether holding s grants the required scope.
func (s Scope) Satisfies(required Scope) bool {
	_, ok := scopeGrants[s][required]
	return ok
}

// ParseScope validates a scope string against the fixed variant set.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeRead, ScopeWrite, ScopeAdmin:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// ParseScopes validates a list of scope strings. At least one is required.
func ParseScopes(raw []string) ([]Scope, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	scopes := make([]Scope, 0, len(raw))
	for _, s := range raw {
		scope, err := ParseScope(s)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// ScopeStrings converts scopes back to their wire form.
func ScopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

// APIKey is a stored credential record. The raw secret never exists in
// storage; SecretHash is an Argon2id PHC string embedding its salt.
type APIKey struct {
	KeyID              string
	SecretHash         string
	Name               string
	Description        string
	Scopes             []Scope
	RateLimitPerMinute int
	RateLimitPerHour   int
	Active             bool
	EmailOverride      []byte // AES-GCM blob of an EmailAccount, nil means system default
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastUsedAt         *time.Time
}

// HasScope reports whether any held scope satisfies the required one.
func (k APIKey) HasScope(required Scope) bool {
	for _, s := range k.Scopes {
		if s.Satisfies(required) {
			return true
		}
	}
	return false
}
