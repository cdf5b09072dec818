package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

const (
	Issuer   = "edulite"
	Audience = "edulite-mobile"

	AccessTTL  = 15 * time.Minute
	RefreshTTL = 7 * 24 * time.Hour
)

// Claims is the payload carried by both access and refresh tokens.
type Claims struct {
	UserID string `json:"userId"`
	Type   Type   `json:"type"`
	jwt.RegisteredClaims
}
