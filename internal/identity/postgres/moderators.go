package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS moderators (
	community  TEXT NOT NULL,
	username   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (community, username)
)`

// ModeratorStore keeps the moderator roster per community.
type ModeratorStore struct {
	pool *pgxpool.Pool
}

func NewModeratorStore(pool *pgxpool.Pool) *ModeratorStore {
	return &ModeratorStore{pool: pool}
}

func (s *ModeratorStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return errors.Wrap(err, "error creating moderators")
}

func (s *ModeratorStore) IsModerator(ctx context.Context, username, community string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM moderators WHERE community = $1 AND lower(username) = lower($2))`,
		community, username,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "error checking moderator")
	}
	return exists, nil
}

func (s *ModeratorStore) Add(ctx context.Context, community, username string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO moderators (community, username) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		community, username,
	)
	return errors.Wrap(err, "error adding moderator")
}

func (s *ModeratorStore) Remove(ctx context.Context, community, username string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM moderators WHERE community = $1 AND lower(username) = lower($2)`,
		community, username,
	)
	return errors.Wrap(err, "error removing moderator")
}
