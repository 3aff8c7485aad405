// Package kv defines the string-keyed document store that holds one event list
// per post, plus an in-process implementation.
package kv

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotFound = errors.New("kv: key not found")
	// ErrConflict means the stored version moved since it was read.
	ErrConflict = errors.New("kv: version conflict")
)

// Entry is a stored document and the version it was read at.
type Entry struct {
	Value   string
	Version int64
}

// Backend is a get/set store with a version stamp per key. Set replaces the
// whole value and succeeds only while the stored version equals expected;
// expected == 0 means the key must not exist yet.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key, value string, expected int64) (int64, error)
}

// PostKey is the key holding a post's event list.
func PostKey(postID string) string {
	return "events_" + postID
}

type Memory struct {
	mu   sync.RWMutex
	docs map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Entry)}
}

func (m *Memory) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.docs[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, expected int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[key].Version != expected {
		return 0, ErrConflict
	}
	next := expected + 1
	m.docs[key] = Entry{Value: value, Version: next}
	return next, nil
}
