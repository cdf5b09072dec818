package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecrets = Secrets{
	Access:  []byte("access-secret-for-tests"),
	Refresh: []byte("refresh-secret-for-tests"),
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s, err := NewService(testSecrets, opts...)
	require.NoError(t, err)
	return s
}

func requireKind(t *testing.T, err error, kind VerifyErrorKind) {
	t.Helper()
	var verr *VerifyError
	require.True(t, errors.As(err, &verr), "expected *VerifyError, got %v", err)
	assert.Equal(t, kind, verr.Kind)
}

func signRaw(t *testing.T, method jwt.SigningMethod, key []byte, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims(typ Type) Claims {
	now := time.Now()
	return Claims{
		UserID: "u1",
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
}

func TestNewService_RequiresBothSecrets(t *testing.T) {
	_, err := NewService(Secrets{Access: []byte("a")})
	require.ErrorIs(t, err, ErrSecretsRequired)

	_, err = NewService(Secrets{Refresh: []byte("r")})
	require.ErrorIs(t, err, ErrSecretsRequired)
}

func TestIssueAndVerify_RoundTrip(t *testing.T) {
	s := newTestService(t)

	access, accessExp, err := s.IssueAccess("u1")
	require.NoError(t, err)
	claims, err := s.Verify(access, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, TypeAccess, claims.Type)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{Audience}, claims.Audience)
	assert.Equal(t, AccessTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
	assert.True(t, accessExp.Equal(claims.ExpiresAt.Time))

	refresh, _, err := s.IssueRefresh("u1")
	require.NoError(t, err)
	claims, err = s.Verify(refresh, TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, RefreshTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestIssue_SameSecondTokensDiffer(t *testing.T) {
	fixed := time.Now()
	s := newTestService(t, WithClock(func() time.Time { return fixed }))

	a, _, err := s.IssueRefresh("u1")
	require.NoError(t, err)
	b, _, err := s.IssueRefresh("u1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerify_Expired(t *testing.T) {
	past := newTestService(t, WithClock(func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) }))
	s := newTestService(t)

	access, _, err := past.IssueAccess("u1")
	require.NoError(t, err)
	_, err = s.Verify(access, TypeAccess)
	requireKind(t, err, KindExpired)

	refresh, _, err := past.IssueRefresh("u1")
	require.NoError(t, err)
	_, err = s.Verify(refresh, TypeRefresh)
	requireKind(t, err, KindExpired)
}

func TestVerify_TypeConfinement(t *testing.T) {
	s := newTestService(t)

	refresh, _, err := s.IssueRefresh("u1")
	require.NoError(t, err)
	_, err = s.Verify(refresh, TypeAccess)
	require.Error(t, err)

	access, _, err := s.IssueAccess("u1")
	require.NoError(t, err)
	_, err = s.Verify(access, TypeRefresh)
	require.Error(t, err)
}

func TestVerify_WrongTypeUnderSameKey(t *testing.T) {
	s := newTestService(t)

	forged := signRaw(t, jwt.SigningMethodHS256, testSecrets.Access, validClaims(TypeRefresh))
	_, err := s.Verify(forged, TypeAccess)
	requireKind(t, err, KindWrongType)
}

func TestVerify_Rejections(t *testing.T) {
	s := newTestService(t)

	wrongAud := validClaims(TypeAccess)
	wrongAud.Audience = jwt.ClaimStrings{"someone-else"}

	wrongIss := validClaims(TypeAccess)
	wrongIss.Issuer = "not-edulite"

	noSubject := validClaims(TypeAccess)
	noSubject.UserID = ""

	tests := []struct {
		name  string
		token string
		kind  VerifyErrorKind
	}{
		{"garbage", "garbage", KindMalformed},
		{"foreign key", signRaw(t, jwt.SigningMethodHS256, []byte("other-key"), validClaims(TypeAccess)), KindInvalidSignature},
		{"disallowed alg", signRaw(t, jwt.SigningMethodHS512, testSecrets.Access, validClaims(TypeAccess)), KindInvalidSignature},
		{"wrong audience", signRaw(t, jwt.SigningMethodHS256, testSecrets.Access, wrongAud), KindWrongAudience},
		{"wrong issuer", signRaw(t, jwt.SigningMethodHS256, testSecrets.Access, wrongIss), KindWrongIssuer},
		{"missing subject", signRaw(t, jwt.SigningMethodHS256, testSecrets.Access, noSubject), KindMissingSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(tt.token, TypeAccess)
			requireKind(t, err, tt.kind)
		})
	}
}

func TestVerify_MissingExpiry(t *testing.T) {
	s := newTestService(t)

	claims := validClaims(TypeAccess)
	claims.ExpiresAt = nil
	_, err := s.Verify(signRaw(t, jwt.SigningMethodHS256, testSecrets.Access, claims), TypeAccess)
	require.Error(t, err)
}

func TestIsValid(t *testing.T) {
	now := time.Now()

	assert.False(t, IsValid(nil, now))
	assert.True(t, IsValid(&RefreshToken{ExpiresAt: now.Add(time.Minute)}, now))
	assert.False(t, IsValid(&RefreshToken{ExpiresAt: now.Add(time.Minute), Revoked: true}, now))
	assert.False(t, IsValid(&RefreshToken{ExpiresAt: now.Add(-time.Minute)}, now))
}
