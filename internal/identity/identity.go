// Package identity resolves who is calling and whether they moderate the
// community hosting a post.
package identity

import (
	"context"
	"strings"

	"community-events/internal/model"
)

// Provider is the host platform's view of the caller.
type Provider interface {
	CurrentUsername(ctx context.Context) (string, error)
	IsModerator(ctx context.Context, username, community string) (bool, error)
}

// ModeratorLookup answers the moderator question for ContextProvider.
type ModeratorLookup interface {
	IsModerator(ctx context.Context, username, community string) (bool, error)
}

type ctxKey string

const usernameKey ctxKey = "username"

// WithUsername records an authenticated username on ctx.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// UsernameFrom returns the authenticated username, or model.Anonymous.
func UsernameFrom(ctx context.Context) string {
	if u, ok := ctx.Value(usernameKey).(string); ok && u != "" {
		return u
	}
	return model.Anonymous
}

// ContextProvider reads the username placed on the context by the transport
// and defers moderator checks to a lookup.
type ContextProvider struct {
	Moderators ModeratorLookup
}

func (p *ContextProvider) CurrentUsername(ctx context.Context) (string, error) {
	return UsernameFrom(ctx), nil
}

func (p *ContextProvider) IsModerator(ctx context.Context, username, community string) (bool, error) {
	if username == model.Anonymous || p.Moderators == nil {
		return false, nil
	}
	return p.Moderators.IsModerator(ctx, username, community)
}

// StaticModerators is a fixed moderator set, for single-community installs.
// Names compare case-insensitively; the community is ignored.
type StaticModerators map[string]bool

func NewStaticModerators(names ...string) StaticModerators {
	m := make(StaticModerators, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			m[strings.ToLower(n)] = true
		}
	}
	return m
}

func (m StaticModerators) IsModerator(_ context.Context, username, _ string) (bool, error) {
	return m[strings.ToLower(username)], nil
}

// Static always reports the same caller. Errors, when set, are returned from
// every call.
type Static struct {
	Username   string
	Moderators map[string]bool
	Err        error
}

func (s *Static) CurrentUsername(context.Context) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.Username, nil
}

func (s *Static) IsModerator(_ context.Context, username, _ string) (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	return s.Moderators[username], nil
}
