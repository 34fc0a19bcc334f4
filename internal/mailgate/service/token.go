package service

import (
	"context"
	"errors"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/pkg/jwtx"
	"github.com/relaypost/mailgate/pkg/slogx"
)

var ErrInvalidToken = errors.New("invalid_token")

// TokenService mints short-lived access tokens for verified keys. A
// token stands in for the key_id:secret pair on subsequent requests so
// the secret crosses the wire once per token lifetime.
type TokenService struct {
	Signer *jwtx.Signer
}

// MintedToken is the response to a successful token request.
type MintedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Mint issues an access token for an already-verified key.
func (s *TokenService) Mint(ctx context.Context, key domain.APIKey) (MintedToken, error) {
	l := slogx.FromContext(ctx)

	token, expiresAt, err := s.Signer.Sign(key.KeyID, domain.ScopeStrings(key.Scopes))
	if err != nil {
		l.Error("failed to sign access token", "error", err, "key_id", key.KeyID)
		return MintedToken{}, err
	}

	l.Info("access token minted", "key_id", key.KeyID)
	return MintedToken{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.Signer.TTL().Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// VerifyAccessToken validates a token and reports the key it was minted
// for. Satisfies the gate's token verifier.
func (s *TokenService) VerifyAccessToken(token string) (string, []domain.Scope, error) {
	claims, err := s.Signer.Verify(token)
	if err != nil {
		return "", nil, ErrInvalidToken
	}
	scopes, err := domain.ParseScopes(claims.Scopes)
	if err != nil {
		return "", nil, ErrInvalidToken
	}
	return claims.Subject, scopes, nil
}
