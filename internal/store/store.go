// Package store owns the canonical event list of a post. Every mutation is a
// full-document read-modify-write against a kv.Backend, retried when another
// writer got there first.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-events/internal/kv"
	"community-events/internal/model"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3

	// maxIDAttempts bounds how often Create redraws an id that is taken.
	maxIDAttempts = 8
)

// Actor is the caller of a mutation, with the moderator flag the session
// resolved when it opened.
type Actor struct {
	Username  string
	Moderator bool
}

func (a Actor) anonymous() bool {
	return a.Username == "" || a.Username == model.Anonymous
}

func (a Actor) canModify(e *model.Event) bool {
	return a.Moderator || (!a.anonymous() && e.Creator == a.Username)
}

type Option func(*EventStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *EventStore) { s.now = now }
}

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option {
	return func(s *EventStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetries sets how many version conflicts a mutation absorbs before
// giving up.
func WithRetries(n int) Option {
	return func(s *EventStore) {
		if n >= 0 {
			s.retries = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *EventStore) { s.log = l }
}

func WithIDGenerator(f func() string) Option {
	return func(s *EventStore) { s.newID = f }
}

// EventStore serves one post. It is not safe for concurrent use; a session
// owns one and issues a request at a time.
type EventStore struct {
	backend  kv.Backend
	postID   string
	key      string
	now      func() time.Time
	timeout  time.Duration
	retries  int
	newID    func() string
	log      *zap.Logger

	loaded  bool
	cached  model.EventList
	version int64
}

func New(backend kv.Backend, postID string, opts ...Option) *EventStore {
	s := &EventStore{
		backend:  backend,
		postID:   postID,
		key:      kv.PostKey(postID),
		now:      time.Now,
		timeout:  DefaultTimeout,
		retries:  DefaultRetries,
		newID:    uuid.NewString,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("post", postID))
	return s
}

func (s *EventStore) PostID() string { return s.postID }

// Load returns the cached list, reading it on first use. A post with no
// stored document has an empty list.
func (s *EventStore) Load(ctx context.Context) (model.EventList, error) {
	if !s.loaded {
		list, version, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		s.cached, s.version, s.loaded = list, version, true
	}
	return s.cached.Clone(), nil
}

// Reload discards the cache and reads the stored document again.
func (s *EventStore) Reload(ctx context.Context) (model.EventList, error) {
	s.loaded = false
	return s.Load(ctx)
}

func (s *EventStore) Create(ctx context.Context, d model.Draft, by Actor) (model.Event, model.EventList, error) {
	if by.anonymous() {
		return model.Event{}, nil, ErrForbidden
	}
	d.Normalize()

	var created model.Event
	list, err := s.mutate(ctx, "create", func(list model.EventList) (model.EventList, error) {
		now := s.now().UTC()
		sc, err := s.checkDraft(d, now, true)
		if err != nil {
			return nil, err
		}

		id, err := freeID(list, s.newID)
		if err != nil {
			return nil, unavailable("create", err)
		}

		created = model.Event{
			ID:          id,
			Title:       d.Title,
			Description: d.Description,
			StartTime:   sc.start,
			EndTime:     sc.end,
			Location:    d.Location,
			Category:    d.Category,
			Creator:     by.Username,
			RSVPs:       []model.RSVP{},
			CreatedAt:   now,
		}
		return append(list, created), nil
	})
	if err != nil {
		return model.Event{}, nil, err
	}

	s.log.Info("event created", zap.String("event", created.ID), zap.String("user", by.Username))
	return created.Clone(), list, nil
}

func (s *EventStore) Update(ctx context.Context, eventID string, p model.Patch, by Actor) (model.EventList, error) {
	list, err := s.mutate(ctx, "update", func(list model.EventList) (model.EventList, error) {
		i, ok := list.Find(eventID)
		if !ok {
			return nil, ErrNotFound
		}
		e := &list[i]
		if !by.canModify(e) {
			return nil, ErrForbidden
		}

		d := patched(*e, p)
		sc, err := s.checkDraft(d, s.now().UTC(), startMoved(d, e.StartTime))
		if err != nil {
			return nil, err
		}

		e.Title = d.Title
		e.Description = d.Description
		e.StartTime = sc.start
		e.EndTime = sc.end
		e.Location = d.Location
		e.Category = d.Category
		return list, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("event updated", zap.String("event", eventID), zap.String("user", by.Username))
	return list, nil
}

// Delete removes eventID. Deleting an id that is already gone succeeds, so
// two viewers racing to delete both see success.
func (s *EventStore) Delete(ctx context.Context, eventID string, by Actor) (model.EventList, error) {
	removed := false
	list, err := s.mutate(ctx, "delete", func(list model.EventList) (model.EventList, error) {
		i, ok := list.Find(eventID)
		if !ok {
			return nil, nil
		}
		if !by.canModify(&list[i]) {
			return nil, ErrForbidden
		}
		removed = true
		return append(list[:i], list[i+1:]...), nil
	})
	if err != nil {
		return nil, err
	}

	if removed {
		s.log.Info("event deleted", zap.String("event", eventID), zap.String("user", by.Username))
	}
	return list, nil
}

// ToggleRSVP adds the actor's RSVP, or removes it if present.
func (s *EventStore) ToggleRSVP(ctx context.Context, eventID string, by Actor) (model.EventList, error) {
	if by.anonymous() {
		return nil, ErrForbidden
	}

	attending := false
	list, err := s.mutate(ctx, "toggle rsvp", func(list model.EventList) (model.EventList, error) {
		i, ok := list.Find(eventID)
		if !ok {
			return nil, ErrNotFound
		}
		e := &list[i]

		kept := e.RSVPs[:0]
		for _, r := range e.RSVPs {
			if r.UserID != by.Username {
				kept = append(kept, r)
			}
		}
		attending = len(kept) == len(e.RSVPs)
		if attending {
			kept = append(kept, model.RSVP{UserID: by.Username, Timestamp: s.now().UTC()})
		}
		e.RSVPs = kept
		return list, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("rsvp toggled",
		zap.String("event", eventID),
		zap.String("user", by.Username),
		zap.Bool("attending", attending),
	)
	return list, nil
}

func freeID(list model.EventList, next func() string) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := next()
		if _, taken := list.Find(id); !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("no free event id after %d attempts", maxIDAttempts)
}

// mutate applies fn to a private copy of the list and writes the result at
// the cached version. On a version conflict the document is re-read and fn
// runs again, so authorization and validation see the latest list. fn
// returning a nil list means nothing changed.
func (s *EventStore) mutate(ctx context.Context, op string, fn func(model.EventList) (model.EventList, error)) (model.EventList, error) {
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		next, err := fn(s.cached.Clone())
		if err != nil {
			return nil, err
		}
		if next == nil {
			return s.cached.Clone(), nil
		}

		version, err := s.write(ctx, next)
		if err == nil {
			s.cached, s.version = next, version
			return next.Clone(), nil
		}
		if !errors.Is(err, kv.ErrConflict) {
			return nil, err
		}
		if attempt >= s.retries {
			return nil, unavailable(op, fmt.Errorf("gave up after %d conflicting writes", attempt+1))
		}

		s.log.Debug("version conflict, retrying", zap.String("op", op), zap.Int("attempt", attempt+1))
		list, version, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		s.cached, s.version = list, version
	}
}

func (s *EventStore) read(ctx context.Context) (model.EventList, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	e, err := s.backend.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return model.EventList{}, 0, nil
	}
	if err != nil {
		return nil, 0, unavailable("read "+s.key, err)
	}

	var list model.EventList
	if err := json.Unmarshal([]byte(e.Value), &list); err != nil {
		return nil, 0, unavailable("decode "+s.key, err)
	}
	if list == nil {
		list = model.EventList{}
	}
	for i := range list {
		if list[i].RSVPs == nil {
			list[i].RSVPs = []model.RSVP{}
		}
	}
	return list, e.Version, nil
}

func (s *EventStore) write(ctx context.Context, list model.EventList) (int64, error) {
	data, err := json.Marshal(list)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	version, err := s.backend.Set(ctx, s.key, string(data), s.version)
	if errors.Is(err, kv.ErrConflict) {
		return 0, err
	}
	if err != nil {
		return 0, unavailable("write "+s.key, err)
	}
	return version, nil
}
