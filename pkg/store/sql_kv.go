package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLKV implements KV on database/sql.
// It supports both Postgres and SQLite via standard drivers.
// Queries are written with $N placeholders and rebound to ?N for SQLite.
type SQLKV struct {
	db     *sql.DB
	sqlite bool
}

// NewSQLKV wraps db. driver is the database/sql driver name it was opened with.
func NewSQLKV(db *sql.DB, driver string) *SQLKV {
	return &SQLKV{db: db, sqlite: driver == "sqlite"}
}

func (s *SQLKV) rebind(query string) string {
	if !s.sqlite {
		return query
	}
	return strings.ReplaceAll(query, "$", "?")
}

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP
);
`

func (s *SQLKV) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, kvSchema)
	return err
}

func (s *SQLKV) Get(ctx context.Context, key string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM kv_store WHERE key = $1`), key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return []byte(value), nil
}

func (s *SQLKV) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), key, string(value), time.Now().UTC()); err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM kv_store WHERE key = $1`), key); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLKV) Close() error {
	return s.db.Close()
}
