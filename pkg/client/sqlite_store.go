package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	createSecretsTable = `CREATE TABLE IF NOT EXISTS secrets (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`
	getSecretQuery    = `SELECT value FROM secrets WHERE key = ?`
	setSecretQuery    = `INSERT INTO secrets (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	removeSecretQuery = `DELETE FROM secrets WHERE key = ?`
)

// SQLiteStore keeps secrets in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the store at path. ":memory:"
// gives a throwaway store.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One connection, so ":memory:" is a single database and writes never
	// contend on the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createSecretsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create secrets table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, getSecretQuery, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get secret %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, setSecretQuery, key, value); err != nil {
		return fmt.Errorf("set secret %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, removeSecretQuery, key); err != nil {
		return fmt.Errorf("remove secret %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
