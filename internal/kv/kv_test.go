package kv_test

import (
	"context"
	"errors"
	"testing"

	"community-events/internal/kv"
	"community-events/internal/kv/kvtest"
)

func TestMemory(t *testing.T) {
	kvtest.Run(t, kv.NewMemory())
}

func TestMemoryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := kv.NewMemory()
	if _, err := m.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("get: expected context.Canceled, got %v", err)
	}
	if _, err := m.Set(ctx, "k", "v", 0); !errors.Is(err, context.Canceled) {
		t.Errorf("set: expected context.Canceled, got %v", err)
	}
}

func TestPostKey(t *testing.T) {
	if got := kv.PostKey("t3_abc"); got != "events_t3_abc" {
		t.Errorf("got %q", got)
	}
}
