// Package kvtest holds the behaviour every kv.Backend driver must share.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"community-events/internal/kv"
)

// Run exercises b against a fresh random key so drivers backed by shared
// servers can run it repeatedly.
func Run(t *testing.T, b kv.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := b.Get(ctx, freshKey())
		if !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("create then replace", func(t *testing.T) {
		key := freshKey()
		v1, err := b.Set(ctx, key, `[]`, 0)
		if err != nil {
			t.Fatalf("first set: %v", err)
		}
		v2, err := b.Set(ctx, key, `[{"id":"1"}]`, v1)
		if err != nil {
			t.Fatalf("second set: %v", err)
		}
		if v2 <= v1 {
			t.Errorf("version did not advance: %d -> %d", v1, v2)
		}
		e, err := b.Get(ctx, key)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if e.Value != `[{"id":"1"}]` || e.Version != v2 {
			t.Errorf("got %+v", e)
		}
	})

	t.Run("stale version", func(t *testing.T) {
		key := freshKey()
		v1, err := b.Set(ctx, key, `[]`, 0)
		if err != nil {
			t.Fatalf("set: %v", err)
		}
		if _, err := b.Set(ctx, key, `["a"]`, v1); err != nil {
			t.Fatalf("set: %v", err)
		}
		if _, err := b.Set(ctx, key, `["b"]`, v1); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if _, err := b.Set(ctx, key, `["c"]`, 0); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("expected ErrConflict on create of existing key, got %v", err)
		}
		e, _ := b.Get(ctx, key)
		if e.Value != `["a"]` {
			t.Errorf("losing write was applied: %q", e.Value)
		}
	})

	t.Run("racing writers", func(t *testing.T) {
		key := freshKey()
		v, err := b.Set(ctx, key, `[]`, 0)
		if err != nil {
			t.Fatalf("set: %v", err)
		}

		const n = 8
		var wg sync.WaitGroup
		results := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := b.Set(ctx, key, fmt.Sprintf(`[%d]`, i), v)
				results <- err
			}(i)
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
			} else if !errors.Is(err, kv.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}
		if wins != 1 {
			t.Errorf("expected exactly 1 winning write, got %d", wins)
		}
	})
}

func freshKey() string {
	return kv.PostKey("kvtest-" + uuid.NewString())
}
