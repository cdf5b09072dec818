package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/edulite/auth-service/internal/password"
	"github.com/edulite/auth-service/internal/token"
	"github.com/edulite/auth-service/internal/user"

	"github.com/google/uuid"
)

// bcrypt ignores everything past 72 bytes, so longer passwords are refused.
const maxPasswordBytes = 72

type UserStore interface {
	Create(ctx context.Context, u *user.User) error
	FindByID(ctx context.Context, id string) (*user.User, error)
	FindByEmail(ctx context.Context, email string) (*user.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

type TokenLedger interface {
	Issue(ctx context.Context, userID, token string, expiresAt time.Time) (int64, error)
	Rotate(ctx context.Context, presented, userID, next string, expiresAt time.Time) error
	Lookup(ctx context.Context, token string) (*token.RefreshToken, error)
	Revoke(ctx context.Context, token string) (int64, error)
}

// Notifier is told when a login pushed out an earlier session.
type Notifier interface {
	SessionReplaced(ctx context.Context, u *user.User)
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Language string
}

type LoginInput struct {
	Email    string
	Password string
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type Service struct {
	users    UserStore
	ledger   TokenLedger
	tokens   *token.Service
	hasher   *password.Hasher
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(users UserStore, ledger TokenLedger, tokens *token.Service, hasher *password.Hasher, opts ...Option) *Service {
	s := &Service{
		users:  users,
		ledger: ledger,
		tokens: tokens,
		hasher: hasher,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validation(map[string]string{"name": "name is required"})
	}
	language := strings.TrimSpace(in.Language)
	if language == "" {
		return nil, validation(map[string]string{"language": "language is required"})
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, validation(map[string]string{"password": "Password must be at most 72 bytes"})
	}

	email := user.NormalizeEmail(in.Email)
	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, internal(err)
	}
	if exists {
		return nil, newError(KindConflict, msgUserExists, nil)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, internal(err)
	}

	u := &user.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         user.RoleStudent,
		Language:     language,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return nil, newError(KindConflict, msgUserExists, err)
		}
		return nil, internal(err)
	}
	return u, nil
}

// Login checks credentials and starts a new session. Any session the user
// already had is revoked in the same ledger transaction.
func (s *Service) Login(ctx context.Context, in LoginInput) (*user.User, TokenPair, error) {
	u, err := s.users.FindByEmail(ctx, in.Email)
	if errors.Is(err, user.ErrNotFound) {
		s.hasher.VerifyDummy(in.Password)
		return nil, TokenPair{}, newError(KindInvalidCredentials, msgInvalidCredentials, nil)
	}
	if err != nil {
		return nil, TokenPair{}, internal(err)
	}
	if !s.hasher.Verify(in.Password, u.PasswordHash) {
		return nil, TokenPair{}, newError(KindInvalidCredentials, msgInvalidCredentials, nil)
	}

	pair, refreshExp, err := s.issuePair(u.ID)
	if err != nil {
		return nil, TokenPair{}, internal(err)
	}

	revoked, err := s.ledger.Issue(ctx, u.ID, pair.RefreshToken, refreshExp)
	if err != nil {
		return nil, TokenPair{}, internal(err)
	}
	if revoked > 0 {
		s.logger.InfoContext(ctx, "previous session revoked", "user_id", u.ID, "revoked", revoked)
		if s.notifier != nil {
			go s.notifier.SessionReplaced(context.WithoutCancel(ctx), u)
		}
	}
	return u, pair, nil
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// is consumed; presenting it again fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, newError(KindBadRequest, msgRefreshRequired, nil)
	}

	rec, err := s.ledger.Lookup(ctx, refreshToken)
	if errors.Is(err, token.ErrTokenNotFound) {
		return TokenPair{}, newError(KindUnauthorized, msgInvalidRefresh, err)
	}
	if err != nil {
		return TokenPair{}, internal(err)
	}
	if rec.Revoked {
		return TokenPair{}, newError(KindUnauthorized, msgInvalidRefresh, token.ErrTokenRevoked)
	}
	if !rec.ExpiresAt.After(s.now()) {
		if _, err := s.ledger.Revoke(ctx, refreshToken); err != nil {
			return TokenPair{}, internal(err)
		}
		return TokenPair{}, newError(KindUnauthorized, msgExpiredRefresh, nil)
	}

	claims, err := s.tokens.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		s.logRejected(ctx, "refresh token rejected", err)
		var verr *token.VerifyError
		if errors.As(err, &verr) && verr.Kind == token.KindMissingSubject {
			return TokenPair{}, newError(KindUnauthorized, msgInvalidPayload, err)
		}
		return TokenPair{}, newError(KindUnauthorized, msgInvalidRefresh, err)
	}
	if claims.UserID != rec.UserID {
		s.logger.WarnContext(ctx, "refresh token owner mismatch", "claims_user_id", claims.UserID, "ledger_user_id", rec.UserID)
		return TokenPair{}, newError(KindUnauthorized, msgInvalidPayload, nil)
	}

	pair, refreshExp, err := s.issuePair(rec.UserID)
	if err != nil {
		return TokenPair{}, internal(err)
	}

	err = s.ledger.Rotate(ctx, refreshToken, rec.UserID, pair.RefreshToken, refreshExp)
	switch {
	case errors.Is(err, token.ErrTokenRevoked):
		return TokenPair{}, newError(KindUnauthorized, msgInvalidRefresh, err)
	case errors.Is(err, token.ErrOwnerNotFound):
		// The account was deleted after the token was looked up.
		return TokenPair{}, newError(KindNotFound, msgUserNotFound, err)
	case err != nil:
		return TokenPair{}, internal(err)
	}
	return pair, nil
}

// Logout revokes refreshToken. It reports whether anything was revoked;
// unknown and already revoked tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) (bool, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return false, newError(KindBadRequest, msgRefreshRequired, nil)
	}
	n, err := s.ledger.Revoke(ctx, refreshToken)
	if err != nil {
		return false, internal(err)
	}
	return n > 0, nil
}

// Authenticate resolves an access token to its user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*user.User, error) {
	claims, err := s.tokens.Verify(accessToken, token.TypeAccess)
	if err != nil {
		s.logRejected(ctx, "access token rejected", err)
		return nil, newError(KindUnauthorized, msgUnauthorized, err)
	}

	u, err := s.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, user.ErrNotFound) {
		return nil, newError(KindUnauthorized, msgUnauthorized, err)
	}
	if err != nil {
		return nil, internal(err)
	}
	return u, nil
}

func (s *Service) issuePair(userID string) (TokenPair, time.Time, error) {
	access, _, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return TokenPair{}, time.Time{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(userID)
	if err != nil {
		return TokenPair{}, time.Time{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, refreshExp, nil
}

func (s *Service) logRejected(ctx context.Context, msg string, err error) {
	var verr *token.VerifyError
	if errors.As(err, &verr) {
		s.logger.DebugContext(ctx, msg, "kind", string(verr.Kind))
		return
	}
	s.logger.DebugContext(ctx, msg, "error", err)
}
