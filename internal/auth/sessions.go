package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fixflow/internal/security"
)

// SessionClaims are the JWT claims carried by an issued session
type SessionClaims struct {
	Username string `json:"name"`
	jwt.RegisteredClaims
}

// SessionIssuer mints and verifies session tokens after the full
// multi-factor flow completes. HS256 under a purpose-scoped key.
type SessionIssuer struct {
	keys   security.KeyProvider
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates a session issuer
func NewSessionIssuer(keys security.KeyProvider, issuer string, ttl time.Duration) *SessionIssuer {
	return &SessionIssuer{
		keys:   keys,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue creates a signed session token for the user
func (s *SessionIssuer) Issue(user *User) (string, error) {
	key, err := s.keys.Key(security.PurposeSessionJWT)
	if err != nil {
		return "", fmt.Errorf("failed to get session key: %w", err)
	}

	now := s.now().UTC()
	claims := SessionClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// Verify parses and validates a session token
func (s *SessionIssuer) Verify(token string) (*SessionClaims, error) {
	key, err := s.keys.Key(security.PurposeSessionJWT)
	if err != nil {
		return nil, fmt.Errorf("failed to get session key: %w", err)
	}

	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

// UserID extracts the subject as a UUID
func (c *SessionClaims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, errors.New("invalid session subject")
	}
	return id, nil
}
