// Package service implements the application use cases on top of the
// store, the gate and the mail transport.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/internal/mailgate/store"
	"github.com/relaypost/mailgate/pkg/cryptox"
	"github.com/relaypost/mailgate/pkg/idx"
	"github.com/relaypost/mailgate/pkg/slogx"
)

var (
	ErrKeyNotFound  = errors.New("api key not found")
	ErrKeyExists    = errors.New("api key already exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotPermitted = errors.New("operation not permitted for this key")
)

// CredentialInvalidator drops any cached verification state for a key.
// Implemented by the gate's verifier.
type CredentialInvalidator interface {
	Invalidate(keyID string)
}

// CreateKeyParams are the inputs for creating an API key.
type CreateKeyParams struct {
	Name               string
	Description        string
	Scopes             []string
	RateLimitPerMinute int
	RateLimitPerHour   int
	EmailAccount       *domain.EmailAccount
}

// UpdateKeyParams are the inputs for updating an API key. Nil fields
// are left unchanged.
type UpdateKeyParams struct {
	Name               *string
	Description        *string
	Scopes             []string
	RateLimitPerMinute *int
	RateLimitPerHour   *int
	EmailAccount       *domain.EmailAccount
}

// APIKeyService manages the credential records behind the gate.
type APIKeyService struct {
	Store       store.Store
	Invalidator CredentialInvalidator
}

// CreateKey mints a new key with a generated identifier and secret. The
// plaintext secret is returned exactly once and never stored.
func (s *APIKeyService) CreateKey(ctx context.Context, params CreateKeyParams) (domain.APIKey, string, error) {
	l := slogx.FromContext(ctx)

	key, err := buildKey(params)
	if err != nil {
		return domain.APIKey{}, "", err
	}

	secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		l.Error("failed to generate key secret", "error", err)
		return domain.APIKey{}, "", err
	}
	hash, err := cryptox.HashSecret(secret)
	if err != nil {
		l.Error("failed to hash key secret", "error", err)
		return domain.APIKey{}, "", err
	}
	key.SecretHash = hash

	if err := s.Store.APIKeys().Create(ctx, key); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.APIKey{}, "", ErrKeyExists
		}
		l.Error("failed to create api key", "error", err)
		return domain.APIKey{}, "", err
	}

	l.Info("api key created", "key_id", key.KeyID, "name", key.Name, "scopes", domain.ScopeStrings(key.Scopes))
	return key, secret, nil
}

// GetKey returns one key by identifier.
func (s *APIKeyService) GetKey(ctx context.Context, keyID string) (domain.APIKey, error) {
	key, err := s.Store.APIKeys().GetByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.APIKey{}, ErrKeyNotFound
		}
		return domain.APIKey{}, err
	}
	return key, nil
}

// ListKeys returns all keys, active and inactive.
func (s *APIKeyService) ListKeys(ctx context.Context) ([]domain.APIKey, error) {
	return s.Store.APIKeys().List(ctx)
}

// UpdateKey applies a partial update. Callers enforce that only an
// admin key or the key itself may update a record; the actor is passed
// for that check.
func (s *APIKeyService) UpdateKey(ctx context.Context, actor domain.APIKey, keyID string, params UpdateKeyParams) (domain.APIKey, error) {
	l := slogx.FromContext(ctx)

	if !actor.HasScope(domain.ScopeAdmin) && actor.KeyID != keyID {
		return domain.APIKey{}, ErrNotPermitted
	}

	key, err := s.GetKey(ctx, keyID)
	if err != nil {
		return domain.APIKey{}, err
	}

	if params.Name != nil {
		key.Name = strings.TrimSpace(*params.Name)
	}
	if params.Description != nil {
		key.Description = strings.TrimSpace(*params.Description)
	}
	if params.Scopes != nil {
		if !actor.HasScope(domain.ScopeAdmin) {
			return domain.APIKey{}, ErrNotPermitted
		}
		scopes, err := domain.ParseScopes(params.Scopes)
		if err != nil {
			return domain.APIKey{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		key.Scopes = scopes
	}
	if params.RateLimitPerMinute != nil {
		if !actor.HasScope(domain.ScopeAdmin) {
			return domain.APIKey{}, ErrNotPermitted
		}
		key.RateLimitPerMinute = *params.RateLimitPerMinute
	}
	if params.RateLimitPerHour != nil {
		if !actor.HasScope(domain.ScopeAdmin) {
			return domain.APIKey{}, ErrNotPermitted
		}
		key.RateLimitPerHour = *params.RateLimitPerHour
	}
	if params.EmailAccount != nil {
		blob, err := encryptAccount(*params.EmailAccount)
		if err != nil {
			return domain.APIKey{}, err
		}
		key.EmailOverride = blob
	}

	if err := validateKey(key); err != nil {
		return domain.APIKey{}, err
	}

	key.UpdatedAt = time.Now().UTC()
	if err := s.Store.APIKeys().Update(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.APIKey{}, ErrKeyNotFound
		}
		l.Error("failed to update api key", "error", err, "key_id", keyID)
		return domain.APIKey{}, err
	}

	s.invalidate(keyID)
	l.Info("api key updated", "key_id", keyID)
	return key, nil
}

// DeactivateKey soft-deletes a key. Deactivated keys are denied by the
// gate immediately and purged later by housekeeping.
func (s *APIKeyService) DeactivateKey(ctx context.Context, keyID string) error {
	l := slogx.FromContext(ctx)

	if err := s.Store.APIKeys().Deactivate(ctx, keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrKeyNotFound
		}
		l.Error("failed to deactivate api key", "error", err, "key_id", keyID)
		return err
	}

	s.invalidate(keyID)
	l.Info("api key deactivated", "key_id", keyID)
	return nil
}

// ResolveEmailAccount decrypts a key's email account override. A zero
// account is returned when the key has none.
func (s *APIKeyService) ResolveEmailAccount(key domain.APIKey) (domain.EmailAccount, error) {
	return decryptAccount(key.EmailOverride)
}

func (s *APIKeyService) invalidate(keyID string) {
	if s.Invalidator != nil {
		s.Invalidator.Invalidate(keyID)
	}
}

func buildKey(params CreateKeyParams) (domain.APIKey, error) {
	scopes, err := domain.ParseScopes(params.Scopes)
	if err != nil {
		return domain.APIKey{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	key := domain.APIKey{
		KeyID:              idx.New().String(),
		Name:               strings.TrimSpace(params.Name),
		Description:        strings.TrimSpace(params.Description),
		Scopes:             scopes,
		RateLimitPerMinute: params.RateLimitPerMinute,
		RateLimitPerHour:   params.RateLimitPerHour,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if params.EmailAccount != nil {
		blob, err := encryptAccount(*params.EmailAccount)
		if err != nil {
			return domain.APIKey{}, err
		}
		key.EmailOverride = blob
	}

	if err := validateKey(key); err != nil {
		return domain.APIKey{}, err
	}
	return key, nil
}

func validateKey(key domain.APIKey) error {
	switch {
	case key.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case len(key.Scopes) == 0:
		return fmt.Errorf("%w: at least one scope is required", ErrInvalidInput)
	case key.RateLimitPerMinute <= 0:
		return fmt.Errorf("%w: rate limit per minute must be positive", ErrInvalidInput)
	case key.RateLimitPerHour <= 0:
		return fmt.Errorf("%w: rate limit per hour must be positive", ErrInvalidInput)
	case key.RateLimitPerMinute > key.RateLimitPerHour:
		return fmt.Errorf("%w: per-minute limit cannot exceed per-hour limit", ErrInvalidInput)
	}
	return nil
}

func encryptAccount(account domain.EmailAccount) ([]byte, error) {
	if account.IsZero() {
		return nil, nil
	}
	raw, err := json.Marshal(account)
	if err != nil {
		return nil, err
	}
	return cryptox.EncryptBlob(raw)
}

func decryptAccount(blob []byte) (domain.EmailAccount, error) {
	if len(blob) == 0 {
		return domain.EmailAccount{}, nil
	}
	raw, err := cryptox.DecryptBlob(blob)
	if err != nil {
		return domain.EmailAccount{}, err
	}
	var account domain.EmailAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		return domain.EmailAccount{}, err
	}
	return account, nil
}
