package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"

	kvredis "community-events/internal/kv/redis"
	"community-events/internal/kv/kvtest"
)

func TestStorage(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}

	kvtest.Run(t, kvredis.NewStorage(client))
}
