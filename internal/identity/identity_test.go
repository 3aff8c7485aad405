package identity_test

import (
	"context"
	"testing"

	"community-events/internal/identity"
	"community-events/internal/model"
)

func TestContextProvider(t *testing.T) {
	p := &identity.ContextProvider{Moderators: identity.NewStaticModerators("Carol", " dave ")}

	ctx := identity.WithUsername(context.Background(), "carol")
	u, err := p.CurrentUsername(ctx)
	if err != nil || u != "carol" {
		t.Fatalf("username: got %q, %v", u, err)
	}

	tests := []struct {
		user string
		want bool
	}{
		{"carol", true},
		{"DAVE", true},
		{"bob", false},
		{model.Anonymous, false},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			got, err := p.IsModerator(ctx, tt.user, "r/events")
			if err != nil {
				t.Fatalf("is moderator: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAnonymousFallback(t *testing.T) {
	p := &identity.ContextProvider{}
	u, _ := p.CurrentUsername(context.Background())
	if u != model.Anonymous {
		t.Errorf("expected %q, got %q", model.Anonymous, u)
	}
	if ok, _ := p.IsModerator(context.Background(), "carol", "r/events"); ok {
		t.Error("no lookup configured should mean no moderators")
	}
}
