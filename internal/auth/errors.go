package auth

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindBadRequest
	KindConflict
	KindInvalidCredentials
	KindUnauthorized
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindInvalidCredentials, KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is what the auth service returns to its transport. Message is safe
// to show to clients; Err carries the cause for logs only.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

const (
	msgServerError        = "Server error"
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidRefresh     = "Invalid refresh token"
	msgExpiredRefresh     = "Expired refresh token"
	msgInvalidPayload     = "Invalid token payload"
	msgRefreshRequired    = "Refresh token required"
	msgUserExists         = "User exists"
	msgUnauthorized       = "Unauthorized"
	msgUserNotFound       = "User not found"
	msgInvalidBody        = "Invalid request body"
)

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func internal(cause error) *Error {
	return newError(KindInternal, msgServerError, cause)
}

func validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "Validation failed", Fields: fields}
}

// AsError classifies err, treating anything unrecognised as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internal(err)
}
