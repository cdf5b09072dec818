package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/edulite/auth-service/internal/db"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const (
	selectUserColumns = `SELECT id, name, email, password_hash, role, language, avatar_url, is_verified, created_at FROM users`
	findByIDQuery     = selectUserColumns + ` WHERE id = $1`
	findByEmailQuery  = selectUserColumns + ` WHERE email = $1`
	existsQuery       = `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`
	insertUserQuery   = `INSERT INTO users (id, name, email, password_hash, role, language, avatar_url, is_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

type Repository struct {
	db db.DBTX
}

func NewRepository(db db.DBTX) *Repository {
	return &Repository{db: db}
}

// NormalizeEmail is the canonical form under which emails are stored and looked up.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *Repository) Create(ctx context.Context, u *User) error {
	_, err := r.db.ExecContext(ctx, insertUserQuery,
		u.ID, u.Name, NormalizeEmail(u.Email), u.PasswordHash, string(u.Role), u.Language, u.AvatarURL, u.IsVerified, u.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	u, err := r.scanOne(ctx, findByIDQuery, id)
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, err := r.scanOne(ctx, findByEmailQuery, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return u, nil
}

func (r *Repository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, existsQuery, NormalizeEmail(email)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) scanOne(ctx context.Context, query string, arg string) (*User, error) {
	var (
		u      User
		role   string
		avatar sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.Language, &avatar, &u.IsVerified, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.Role = Role(role)
	if avatar.Valid {
		u.AvatarURL = &avatar.String
	}
	return &u, nil
}
