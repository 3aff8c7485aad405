package session

import (
	"time"

	"go.uber.org/zap"

	"community-events/internal/identity"
	"community-events/internal/kv"
	"community-events/internal/store"
)

// Factory builds the per-connection pieces every transport needs. Zero
// Timeout and Retries mean the store defaults.
type Factory struct {
	Backend   kv.Backend
	Identity  identity.Provider
	Community string
	QueueSize int
	Timeout   time.Duration
	Retries   int
	Logger    *zap.Logger
}

func (f *Factory) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

// Store returns a fresh event store for postID.
func (f *Factory) Store(postID string) *store.EventStore {
	opts := []store.Option{
		store.WithLogger(f.logger().Named("store")),
		store.WithTimeout(f.Timeout),
	}
	if f.Retries > 0 {
		opts = append(opts, store.WithRetries(f.Retries))
	}
	return store.New(f.Backend, postID, opts...)
}

// Session builds an unopened session for postID answering through out.
func (f *Factory) Session(postID string, out Sender) *Session {
	return New(f.Store(postID), f.Identity, out,
		WithCommunity(f.Community),
		WithQueueSize(f.QueueSize),
		WithTimeout(f.Timeout),
		WithLogger(f.logger().Named("session")),
	)
}
