package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"community-events/internal/identity/postgres"
)

func setup(t *testing.T) *postgres.ModeratorStore {
	t.Helper()
	_ = godotenv.Load("../../../.env")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(pool.Close)

	st := postgres.NewModeratorStore(pool)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestModeratorRoster(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	community := fmt.Sprintf("r/test-%s", uuid.New().String()[:8])

	if ok, err := st.IsModerator(ctx, "carol", community); err != nil || ok {
		t.Fatalf("empty roster: got %v, %v", ok, err)
	}

	if err := st.Add(ctx, community, "Carol"); err != nil {
		t.Fatalf("add: %v", err)
	}
	// adding twice is fine
	if err := st.Add(ctx, community, "Carol"); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	if ok, _ := st.IsModerator(ctx, "carol", community); !ok {
		t.Error("expected carol to moderate")
	}
	if ok, _ := st.IsModerator(ctx, "carol", "r/elsewhere"); ok {
		t.Error("moderator status leaked across communities")
	}

	if err := st.Remove(ctx, community, "carol"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := st.IsModerator(ctx, "carol", community); ok {
		t.Error("expected carol removed")
	}
}
