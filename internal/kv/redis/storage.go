package redis

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"community-events/internal/kv"
)

// Storage keeps each document under its key and the version counter under
// "<key>:version". Writes are WATCH/MULTI on the version key.
type Storage struct {
	redisClient *redis.Client
}

func NewStorage(client *redis.Client) *Storage {
	return &Storage{redisClient: client}
}

func versionKey(key string) string {
	return key + ":version"
}

func (s *Storage) Get(ctx context.Context, key string) (kv.Entry, error) {
	vals, err := s.redisClient.MGet(ctx, key, versionKey(key)).Result()
	if err != nil {
		return kv.Entry{}, errors.Wrap(err, "error reading document")
	}
	if vals[0] == nil {
		return kv.Entry{}, kv.ErrNotFound
	}

	e := kv.Entry{Value: vals[0].(string)}
	if vals[1] != nil {
		if e.Version, err = strconv.ParseInt(vals[1].(string), 10, 64); err != nil {
			return kv.Entry{}, errors.Wrap(err, "error parsing document version")
		}
	}
	return e, nil
}

func (s *Storage) Set(ctx context.Context, key, value string, expected int64) (int64, error) {
	vk := versionKey(key)
	next := expected + 1

	err := s.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vk).Int64()
		if err == redis.Nil {
			cur = 0
		} else if err != nil {
			return errors.Wrap(err, "error reading document version")
		}
		if cur != expected {
			return kv.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, 0)
			pipe.Set(ctx, vk, next, 0)
			return nil
		})
		return err
	}, vk)

	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, kv.ErrConflict), errors.Is(err, redis.TxFailedErr):
		return 0, kv.ErrConflict
	default:
		return 0, errors.Wrap(err, "error writing document")
	}
}
