package auth

import (
	"context"
	"sync"
	"time"

	"github.com/edulite/auth-service/internal/token"
	"github.com/edulite/auth-service/internal/user"
)

type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*user.User
	failErr error
	// raceTaken makes Create fail as if another request inserted the email first.
	raceTaken bool
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*user.User{}}
}

func (m *memUsers) Create(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if m.raceTaken {
		return user.ErrEmailTaken
	}
	for _, existing := range m.byID {
		if existing.Email == user.NormalizeEmail(u.Email) {
			return user.ErrEmailTaken
		}
	}
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, u := range m.byID {
		if u.Email == user.NormalizeEmail(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (m *memUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.FindByEmail(ctx, email)
	if err == user.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (m *memUsers) delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

// memLedger mirrors the Postgres ledger: every write holds one lock, which
// plays the part of the user row lock.
type memLedger struct {
	mu      sync.Mutex
	records   map[string]*token.RefreshToken
	failErr   error
	rotateErr error
}

func newMemLedger() *memLedger {
	return &memLedger{records: map[string]*token.RefreshToken{}}
}

func (m *memLedger) Issue(_ context.Context, userID, tok string, expiresAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	return m.replaceActive(userID, tok, expiresAt), nil
}

func (m *memLedger) Rotate(_ context.Context, presented, userID, next string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if m.rotateErr != nil {
		return m.rotateErr
	}
	rec, ok := m.records[token.HashToken(presented)]
	if !ok || rec.Revoked || rec.UserID != userID {
		return token.ErrTokenRevoked
	}
	rec.Revoked = true
	m.replaceActive(userID, next, expiresAt)
	return nil
}

func (m *memLedger) Lookup(_ context.Context, tok string) (*token.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	rec, ok := m.records[token.HashToken(tok)]
	if !ok {
		return nil, token.ErrTokenNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memLedger) Revoke(_ context.Context, tok string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	rec, ok := m.records[token.HashToken(tok)]
	if !ok || rec.Revoked {
		return 0, nil
	}
	rec.Revoked = true
	return 1, nil
}

func (m *memLedger) replaceActive(userID, tok string, expiresAt time.Time) int64 {
	var revoked int64
	for _, rec := range m.records {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			revoked++
		}
	}
	m.records[token.HashToken(tok)] = &token.RefreshToken{
		TokenHash: token.HashToken(tok),
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return revoked
}

func (m *memLedger) put(tok, userID string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[token.HashToken(tok)] = &token.RefreshToken{
		TokenHash: token.HashToken(tok),
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
}

func (m *memLedger) record(tok string) *token.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[token.HashToken(tok)]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (m *memLedger) active(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.UserID == userID && !rec.Revoked {
			n++
		}
	}
	return n
}

type chanNotifier struct {
	replaced chan string
}

func (n *chanNotifier) SessionReplaced(_ context.Context, u *user.User) {
	n.replaced <- u.ID
}
