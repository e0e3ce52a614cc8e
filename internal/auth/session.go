// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	DefaultSessionTTL    = time.Hour
	DefaultSessionIssuer = "accountd"
)

// Session token failures. Each wraps ErrToken.
var (
	ErrTokenMissing = fmt.Errorf("%w: token missing", ErrToken)
	ErrTokenInvalid = fmt.Errorf("%w: token invalid", ErrToken)
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrToken)
)

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and validates stateless HS256 session tokens.
// It holds no mutable state and is safe for concurrent use.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// SessionOption configures a SessionIssuer.
type SessionOption func(*SessionIssuer)

// WithSessionClock overrides the issuer's time source.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionIssuer) { s.now = now }
}

// WithIssuer sets the iss claim written and required on tokens.
func WithIssuer(issuer string) SessionOption {
	return func(s *SessionIssuer) { s.issuer = issuer }
}

// NewSessionIssuer creates a SessionIssuer. An empty secret is rejected.
func NewSessionIssuer(secret string, ttl time.Duration, opts ...SessionOption) (*SessionIssuer, error) {
	if secret == "" {
		return nil, oops.Code("SESSION_SECRET_MISSING").Errorf("token secret cannot be empty")
	}
	if ttl <= 0 {
		return nil, oops.Code("SESSION_INVALID_TTL").With("ttl", ttl).Errorf("token ttl must be positive")
	}
	s := &SessionIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: DefaultSessionIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime of issued tokens.
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for email. The returned expiry is truncated to the
// second precision the token carries.
func (s *SessionIssuer) Issue(email string) (string, time.Time, error) {
	if email == "" {
		return "", time.Time{}, oops.Code("SESSION_INVALID_EMAIL").Errorf("email cannot be empty")
	}

	now := s.now()
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        ulid.Make().String(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("SESSION_SIGN_FAILED").Wrap(err)
	}
	return token, claims.ExpiresAt.Time, nil
}

// Validate parses and verifies a token. Returns ErrTokenMissing for an empty
// token, ErrTokenExpired after expiry, and ErrTokenInvalid for anything else.
func (s *SessionIssuer) Validate(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_MISSING").Wrap(ErrTokenMissing)
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, oops.Code("SESSION_TOKEN_EXPIRED").Wrap(tagged(ErrTokenExpired, err))
	case err != nil:
		return nil, oops.Code("SESSION_TOKEN_INVALID").Wrap(tagged(ErrTokenInvalid, err))
	}

	if claims.Email == "" {
		claims.Email = claims.Subject
	}
	if claims.Email == "" {
		return nil, oops.Code("SESSION_TOKEN_INVALID").
			With("reason", "no subject").
			Wrap(ErrTokenInvalid)
	}
	return claims, nil
}
