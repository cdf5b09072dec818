package token

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/edulite/auth-service/internal/db"
)

const (
	lockUserQuery     = `SELECT id FROM users WHERE id = $1 FOR UPDATE`
	revokeActiveQuery = `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND NOT revoked`
	insertTokenQuery  = `INSERT INTO refresh_tokens (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`
	lookupTokenQuery  = `SELECT token_hash, user_id, expires_at, revoked, created_at FROM refresh_tokens WHERE token_hash = $1`
	revokeTokenQuery  = `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1 AND NOT revoked`
	revokeOwnedQuery  = `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1 AND user_id = $2 AND NOT revoked`
	purgeTokensQuery  = `DELETE FROM refresh_tokens WHERE revoked OR expires_at < $1`
)

// Ledger persists issued refresh tokens. Writes that touch a user's active
// token run in one transaction holding that user's row lock, so at most one
// record per user is ever left unrevoked.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue revokes every active token of userID and records the new one.
// It returns how many previous tokens were revoked.
func (l *Ledger) Issue(ctx context.Context, userID, token string, expiresAt time.Time) (int64, error) {
	var revoked int64
	err := db.WithTx(ctx, l.db, nil, func(ctx context.Context, tx db.DBTX) error {
		if err := lockOwner(ctx, tx, userID); err != nil {
			return err
		}
		n, err := replaceActive(ctx, tx, userID, token, expiresAt)
		revoked = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

// Rotate consumes presented and records next in its place. If presented was
// already revoked, by logout or a concurrent rotation, nothing changes and
// ErrTokenRevoked is returned.
func (l *Ledger) Rotate(ctx context.Context, presented, userID, next string, expiresAt time.Time) error {
	return db.WithTx(ctx, l.db, nil, func(ctx context.Context, tx db.DBTX) error {
		if err := lockOwner(ctx, tx, userID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, revokeOwnedQuery, HashToken(presented), userID)
		if err != nil {
			return fmt.Errorf("revoke presented token: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("revoke presented token: %w", err)
		}
		if n == 0 {
			return ErrTokenRevoked
		}

		_, err = replaceActive(ctx, tx, userID, next, expiresAt)
		return err
	})
}

func (l *Ledger) Lookup(ctx context.Context, token string) (*RefreshToken, error) {
	var rt RefreshToken
	err := l.db.QueryRowContext(ctx, lookupTokenQuery, HashToken(token)).
		Scan(&rt.TokenHash, &rt.UserID, &rt.ExpiresAt, &rt.Revoked, &rt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	return &rt, nil
}

// Revoke marks token revoked. Unknown or already revoked tokens yield 0.
func (l *Ledger) Revoke(ctx context.Context, token string) (int64, error) {
	res, err := l.db.ExecContext(ctx, revokeTokenQuery, HashToken(token))
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token: %w", err)
	}
	return n, nil
}

// Purge deletes revoked rows and rows that expired before the cutoff.
func (l *Ledger) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, purgeTokensQuery, before)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func lockOwner(ctx context.Context, tx db.DBTX, userID string) error {
	var id string
	err := tx.QueryRowContext(ctx, lockUserQuery, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOwnerNotFound
	}
	if err != nil {
		return fmt.Errorf("lock token owner: %w", err)
	}
	return nil
}

func replaceActive(ctx context.Context, tx db.DBTX, userID, token string, expiresAt time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, revokeActiveQuery, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke active tokens: %w", err)
	}
	revoked, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke active tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx, insertTokenQuery, HashToken(token), userID, expiresAt); err != nil {
		return 0, fmt.Errorf("insert refresh token: %w", err)
	}
	return revoked, nil
}
