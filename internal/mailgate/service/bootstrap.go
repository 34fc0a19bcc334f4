package service

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/internal/mailgate/store"
	"github.com/relaypost/mailgate/pkg/slogx"
)

var (
	ErrBootstrapAlready      = errors.New("system already bootstrapped")
	ErrBootstrapUnauthorized = errors.New("unauthorized bootstrap attempt")
)

// BootstrapService creates the first admin key on an empty store. Once
// any key exists the endpoint is closed for good; further keys are
// minted through the authenticated API.
type BootstrapService struct {
	Store store.Store
	Keys  *APIKeyService
	Token string
}

// IsBootstrapped reports whether any key has ever been created.
func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	empty, err := s.Store.APIKeys().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// Bootstrap creates the initial admin key. When a bootstrap token is
// configured the caller must present it.
func (s *BootstrapService) Bootstrap(ctx context.Context, token, name string) (domain.APIKey, string, error) {
	l := slogx.FromContext(ctx)

	bootstrapped, err := s.IsBootstrapped(ctx)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	if bootstrapped {
		l.Warn("attempted bootstrap on already-bootstrapped system")
		return domain.APIKey{}, "", ErrBootstrapAlready
	}

	if s.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
		l.Warn("unauthorized bootstrap attempt")
		return domain.APIKey{}, "", ErrBootstrapUnauthorized
	}

	if name == "" {
		name = "bootstrap admin"
	}

	key, secret, err := s.Keys.CreateKey(ctx, CreateKeyParams{
		Name:               name,
		Description:        "initial administrative key",
		Scopes:             []string{string(domain.ScopeAdmin)},
		RateLimitPerMinute: 60,
		RateLimitPerHour:   1000,
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}

	l.Info("system bootstrapped", "key_id", key.KeyID)
	return key, secret, nil
}
