package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"community-events/internal/kv/kvtest"
	"community-events/internal/kv/sqlite"
)

func TestStorage(t *testing.T) {
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	kvtest.Run(t, st)
}

func TestStorageSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	st, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	v, err := st.Set(ctx, "events_p1", `[{"id":"x"}]`, 0)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	st.Close()

	st, err = sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	e, err := st.Get(ctx, "events_p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Value != `[{"id":"x"}]` || e.Version != v {
		t.Errorf("got %+v", e)
	}
}
