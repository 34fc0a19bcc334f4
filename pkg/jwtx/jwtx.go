// Package jwtx wraps golang-jwt with the access-token shape used by the
// service: HS256, short-lived, subject is the API key identifier and
// scopes travel as a claim.
package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// AccessClaims are the claims carried by a minted access token.
type AccessClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Signer mints and verifies HS256 access tokens.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer. A zero or negative ttl defaults to 30
// minutes.
func NewSigner(secret []byte, issuer string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Signer{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock injects a clock for tests and returns the signer.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// TTL reports the lifetime of minted tokens.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Sign mints a token for the given subject and scopes.
func (s *Signer) Sign(subject string, scopes []string) (token string, expiresAt time.Time, err error) {
	now := s.now()
	expiresAt = now.Add(s.ttl)

	claims := AccessClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify parses and validates a token, enforcing the HS256 signing
// method and the issuer.
func (s *Signer) Verify(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
