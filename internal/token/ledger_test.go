package token

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newLedgerWithMock(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLedger(db), mock
}

func expectLock(mock sqlmock.Sqlmock, userID string) {
	mock.ExpectQuery(regexp.QuoteMeta(lockUserQuery)).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(userID))
}

func TestHashToken_Deterministic(t *testing.T) {
	require.Equal(t, HashToken("abc"), HashToken("abc"))
	require.NotEqual(t, HashToken("abc"), HashToken("abd"))
	require.Len(t, HashToken("abc"), 64)
}

func TestIssue_RevokesPreviousInOneTx(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)
	expires := time.Now().Add(RefreshTTL)

	mock.ExpectBegin()
	expectLock(mock, "u1")
	mock.ExpectExec(regexp.QuoteMeta(revokeActiveQuery)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertTokenQuery)).
		WithArgs(HashToken("tok-2"), "u1", expires).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	revoked, err := ledger.Issue(context.Background(), "u1", "tok-2", expires)
	require.NoError(t, err)
	require.EqualValues(t, 1, revoked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssue_UnknownOwner(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockUserQuery)).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := ledger.Issue(context.Background(), "ghost", "tok", time.Now())
	require.ErrorIs(t, err, ErrOwnerNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssue_InsertFailureRollsBack(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)

	mock.ExpectBegin()
	expectLock(mock, "u1")
	mock.ExpectExec(regexp.QuoteMeta(revokeActiveQuery)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertTokenQuery)).
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	_, err := ledger.Issue(context.Background(), "u1", "tok", time.Now())
	require.ErrorContains(t, err, "insert refresh token: db down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotate_Success(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)
	expires := time.Now().Add(RefreshTTL)

	mock.ExpectBegin()
	expectLock(mock, "u1")
	mock.ExpectExec(regexp.QuoteMeta(revokeOwnedQuery)).
		WithArgs(HashToken("old"), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(revokeActiveQuery)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertTokenQuery)).
		WithArgs(HashToken("new"), "u1", expires).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ledger.Rotate(context.Background(), "old", "u1", "new", expires))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotate_AlreadyRevoked(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)

	mock.ExpectBegin()
	expectLock(mock, "u1")
	mock.ExpectExec(regexp.QuoteMeta(revokeOwnedQuery)).
		WithArgs(HashToken("old"), "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := ledger.Rotate(context.Background(), "old", "u1", "new", time.Now())
	require.ErrorIs(t, err, ErrTokenRevoked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookup_Found(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)
	expires := time.Now().Add(time.Hour).UTC()
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(lookupTokenQuery)).
		WithArgs(HashToken("tok")).
		WillReturnRows(sqlmock.NewRows([]string{"token_hash", "user_id", "expires_at", "revoked", "created_at"}).
			AddRow(HashToken("tok"), "u1", expires, false, created))

	rt, err := ledger.Lookup(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, "u1", rt.UserID)
	require.False(t, rt.Revoked)
	require.True(t, rt.ExpiresAt.Equal(expires))
}

func TestLookup_NotFound(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(lookupTokenQuery)).
		WithArgs(HashToken("missing")).
		WillReturnError(sql.ErrNoRows)

	_, err := ledger.Lookup(context.Background(), "missing")
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRevoke_Idempotent(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)

	mock.ExpectExec(regexp.QuoteMeta(revokeTokenQuery)).
		WithArgs(HashToken("tok")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(revokeTokenQuery)).
		WithArgs(HashToken("tok")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := ledger.Revoke(context.Background(), "tok")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = ledger.Revoke(context.Background(), "tok")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestPurge(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)
	cutoff := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(purgeTokensQuery)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := ledger.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}
