package token

import (
	"bytes"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Secrets holds the two HMAC keys. They must differ so a token of one type
// can never pass signature verification as the other.
type Secrets struct {
	Access  []byte
	Refresh []byte
}

type Service struct {
	access  []byte
	refresh []byte
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(secrets Secrets, opts ...Option) (*Service, error) {
	if len(secrets.Access) == 0 || len(secrets.Refresh) == 0 {
		return nil, ErrSecretsRequired
	}

	s := &Service{
		access:  bytes.Clone(secrets.Access),
		refresh: bytes.Clone(secrets.Refresh),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) IssueAccess(userID string) (string, time.Time, error) {
	return s.issue(userID, TypeAccess, AccessTTL)
}

func (s *Service) IssueRefresh(userID string) (string, time.Time, error) {
	return s.issue(userID, TypeRefresh, RefreshTTL)
}

func (s *Service) issue(userID string, typ Type, ttl time.Duration) (string, time.Time, error) {
	now := s.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims := Claims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.keyFor(typ))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, audience, expiry and type. Any failure is
// returned as a *VerifyError.
func (s *Service) Verify(tokenString string, expected Type) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return s.keyFor(expected), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, classify(err)
	}

	if claims.Type != expected {
		return nil, &VerifyError{Kind: KindWrongType, Err: fmt.Errorf("want %s, got %q", expected, claims.Type)}
	}
	if claims.UserID == "" {
		return nil, &VerifyError{Kind: KindMissingSubject}
	}
	return claims, nil
}

func (s *Service) keyFor(typ Type) []byte {
	if typ == TypeRefresh {
		return s.refresh
	}
	return s.access
}
