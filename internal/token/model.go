package token

import (
	"time"
)

// RefreshToken is a ledger row. Only the SHA-256 digest of the signed token
// is persisted.
type RefreshToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

func IsValid(record *RefreshToken, now time.Time) bool {
	return record != nil && !record.Revoked && record.ExpiresAt.After(now)
}
