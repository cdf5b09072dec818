package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenNotFound   = errors.New("refresh token not found")
	ErrTokenRevoked    = errors.New("refresh token already revoked")
	ErrOwnerNotFound   = errors.New("refresh token owner not found")
	ErrSecretsRequired = errors.New("access and refresh secrets are required")
)

// VerifyErrorKind says which check rejected a token. It is meant for logs;
// callers facing the network collapse every kind into one unauthorized outcome.
type VerifyErrorKind string

const (
	KindMalformed        VerifyErrorKind = "malformed"
	KindInvalidSignature VerifyErrorKind = "invalid_signature"
	KindExpired          VerifyErrorKind = "expired"
	KindWrongAudience    VerifyErrorKind = "wrong_audience"
	KindWrongIssuer      VerifyErrorKind = "wrong_issuer"
	KindWrongType        VerifyErrorKind = "wrong_type"
	KindMissingSubject   VerifyErrorKind = "missing_subject"
)

type VerifyError struct {
	Kind VerifyErrorKind
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("token rejected: %s", e.Kind)
	}
	return fmt.Sprintf("token rejected: %s: %v", e.Kind, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

func classify(err error) *VerifyError {
	kind := KindMalformed
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		kind = KindMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		kind = KindInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		kind = KindExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		kind = KindWrongAudience
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		kind = KindWrongIssuer
	}
	return &VerifyError{Kind: kind, Err: err}
}
