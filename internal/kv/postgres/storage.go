package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"community-events/internal/kv"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_documents (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type Storage struct {
	pool *pgxpool.Pool
}

func NewStorage(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// Migrate creates the documents table if it is missing.
func (s *Storage) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return errors.Wrap(err, "error creating kv_documents")
}

func (s *Storage) Get(ctx context.Context, key string) (kv.Entry, error) {
	var e kv.Entry
	err := s.pool.QueryRow(ctx,
		`SELECT value, version FROM kv_documents WHERE key = $1`, key,
	).Scan(&e.Value, &e.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return kv.Entry{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Entry{}, errors.Wrap(err, "error reading document")
	}
	return e, nil
}

func (s *Storage) Set(ctx context.Context, key, value string, expected int64) (int64, error) {
	next := expected + 1

	// first write must win the insert, later writes must match the version
	q := `UPDATE kv_documents SET value = $2, version = $4, updated_at = NOW()
	      WHERE key = $1 AND version = $3`
	args := []any{key, value, expected, next}
	if expected == 0 {
		q = `INSERT INTO kv_documents (key, value, version) VALUES ($1, $2, $3)
		     ON CONFLICT (key) DO NOTHING`
		args = []any{key, value, next}
	}

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, "error writing document")
	}
	if tag.RowsAffected() == 0 {
		return 0, kv.ErrConflict
	}
	return next, nil
}
