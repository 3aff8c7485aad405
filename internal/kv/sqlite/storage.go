package sqlite

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"community-events/internal/kv"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_documents (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Storage is the single-file driver. SQLite allows one writer at a time, so
// the pool is held to one connection.
type Storage struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Storage, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "error opening sqlite database")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "error creating kv_documents")
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Get(ctx context.Context, key string) (kv.Entry, error) {
	var e kv.Entry
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM kv_documents WHERE key = ?`, key,
	).Scan(&e.Value, &e.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return kv.Entry{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Entry{}, errors.Wrap(err, "error reading document")
	}
	return e, nil
}

func (s *Storage) Set(ctx context.Context, key, value string, expected int64) (int64, error) {
	next := expected + 1

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO kv_documents (key, value, version) VALUES (?, ?, ?)
			 ON CONFLICT (key) DO NOTHING`, key, value, next)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE kv_documents SET value = ?, version = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE key = ? AND version = ?`, value, next, key, expected)
	}
	if err != nil {
		return 0, errors.Wrap(err, "error writing document")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "error writing document")
	}
	if n == 0 {
		return 0, kv.ErrConflict
	}
	return next, nil
}
