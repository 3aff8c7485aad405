// Package session runs one display surface's view of a post: it resolves who
// is looking, loads the list, then turns protocol requests into event store
// calls and pushes exactly one response for each.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"community-events/internal/identity"
	"community-events/internal/model"
	"community-events/internal/protocol"
	"community-events/internal/store"
)

const DefaultQueueSize = 16

// ErrNotLoaded answers mutations sent before the session has loaded.
var ErrNotLoaded = fmt.Errorf("%w: session not loaded, send ready", store.ErrUnavailable)

type State int

const (
	Uninitialized State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Sender pushes a response to the display surface that owns the session.
type Sender interface {
	Send(ctx context.Context, resp protocol.Response) error
}

type SenderFunc func(ctx context.Context, resp protocol.Response) error

func (f SenderFunc) Send(ctx context.Context, resp protocol.Response) error {
	return f(ctx, resp)
}

type Option func(*Session)

// WithCommunity names the community moderator status is checked against.
func WithCommunity(c string) Option {
	return func(s *Session) { s.community = c }
}

// WithQueueSize bounds how many requests wait while the session loads.
func WithQueueSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithTimeout bounds each identity lookup.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is single-threaded: Open, Handle and Run must not be called
// concurrently.
type Session struct {
	store     *store.EventStore
	identity  identity.Provider
	out       Sender
	community string
	queueSize int
	timeout   time.Duration
	log       *zap.Logger

	state State
	// resolved once per session; moderator changes apply on the next session
	actor store.Actor
	// the list was read by the load that just finished
	fresh bool
}

func New(st *store.EventStore, id identity.Provider, out Sender, opts ...Option) *Session {
	s := &Session{
		store:     st,
		identity:  id,
		out:       out,
		queueSize: DefaultQueueSize,
		timeout:   store.DefaultTimeout,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("post", st.PostID()))
	return s
}

func (s *Session) State() State { return s.state }

// Actor is the resolved caller; zero until the session is Ready.
func (s *Session) Actor() store.Actor { return s.actor }

type loadResult struct {
	actor store.Actor
	err   error
}

// load resolves identity and the moderator flag while the list is read.
func (s *Session) load(ctx context.Context) loadResult {
	var actor store.Actor
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, s.timeout)
		defer cancel()

		username, err := s.identity.CurrentUsername(cctx)
		if err != nil {
			return fmt.Errorf("%w: resolve username: %w", store.ErrUnavailable, err)
		}
		if username == "" {
			username = model.Anonymous
		}
		mod, err := s.identity.IsModerator(cctx, username, s.community)
		if err != nil {
			return fmt.Errorf("%w: resolve moderator flag: %w", store.ErrUnavailable, err)
		}
		actor = store.Actor{Username: username, Moderator: mod}
		return nil
	})
	g.Go(func() error {
		_, err := s.store.Reload(gctx)
		return err
	})

	err := g.Wait()
	return loadResult{actor: actor, err: err}
}

func (s *Session) finishLoad(res loadResult) {
	if res.err != nil {
		s.state = Uninitialized
		s.log.Error("session load failed", zap.Error(res.err))
		return
	}
	s.actor = res.actor
	s.state = Ready
	s.fresh = true
	s.log.Info("session ready",
		zap.String("user", s.actor.Username),
		zap.Bool("moderator", s.actor.Moderator),
	)
}

// Open loads the session synchronously.
func (s *Session) Open(ctx context.Context) error {
	s.state = Loading
	res := s.load(ctx)
	s.finishLoad(res)
	return res.err
}

// Handle decodes one message and answers it. A known request with a bad
// payload is answered with a rejection. Messages with no recognizable type
// get no response and their decode error is returned; errors from the Sender
// are returned as-is.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	in, err := decode(raw)
	if err != nil {
		return err
	}
	return s.answer(ctx, in)
}

// inbound is a decoded message; err is set when its payload was rejected.
type inbound struct {
	req protocol.Request
	err error
}

// decode fails only for messages that cannot be answered.
func decode(raw []byte) (inbound, error) {
	req, err := protocol.Decode(raw)
	if err != nil && req.Type == "" {
		return inbound{}, err
	}
	return inbound{req: req, err: err}, nil
}

func (s *Session) answer(ctx context.Context, in inbound) error {
	if in.err != nil {
		s.log.Debug("request rejected", zap.String("request", string(in.req.Type)), zap.Error(in.err))
		return s.out.Send(ctx, protocol.Reject(in.req.Type, in.err))
	}
	return s.dispatch(ctx, in.req)
}

func (s *Session) dispatch(ctx context.Context, req protocol.Request) error {
	switch s.state {
	case Ready:
		return s.out.Send(ctx, s.apply(ctx, req))
	case Uninitialized:
		if req.Type != protocol.Ready {
			return s.out.Send(ctx, protocol.Reject(req.Type, ErrNotLoaded))
		}
		if err := s.Open(ctx); err != nil {
			return s.out.Send(ctx, protocol.Reject(req.Type, err))
		}
		return s.out.Send(ctx, s.apply(ctx, req))
	default:
		return s.out.Send(ctx, protocol.Busy(req.Type))
	}
}

// apply runs req against the store. A storage failure sends the session back
// to Uninitialized so nothing stale is shown as current.
func (s *Session) apply(ctx context.Context, req protocol.Request) protocol.Response {
	var (
		resp protocol.Response
		err  error
	)

	switch req.Type {
	case protocol.Ready:
		var list model.EventList
		if s.fresh {
			list, err = s.store.Load(ctx)
		} else {
			list, err = s.store.Reload(ctx)
		}
		resp = protocol.NewInitialState(s.actor.Username, list, s.actor.Moderator)
	case protocol.Create:
		var e model.Event
		var list model.EventList
		e, list, err = s.store.Create(ctx, req.Draft, s.actor)
		resp = protocol.NewCreated(e, list)
	case protocol.Update:
		var list model.EventList
		list, err = s.store.Update(ctx, req.EventID, req.Patch, s.actor)
		resp = protocol.NewList(req.Type, list)
	case protocol.ToggleRSVP:
		var list model.EventList
		list, err = s.store.ToggleRSVP(ctx, req.EventID, s.actor)
		resp = protocol.NewList(req.Type, list)
	case protocol.Delete:
		var list model.EventList
		list, err = s.store.Delete(ctx, req.EventID, s.actor)
		resp = protocol.NewList(req.Type, list)
	default:
		err = fmt.Errorf("%w: %q", protocol.ErrUnknownType, req.Type)
	}
	s.fresh = false

	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			s.state = Uninitialized
			s.log.Error("storage unavailable", zap.String("request", string(req.Type)), zap.Error(err))
		} else {
			s.log.Debug("request rejected", zap.String("request", string(req.Type)), zap.Error(err))
		}
		return protocol.Reject(req.Type, err)
	}
	return resp
}

// Run serves messages from inbox until it closes or ctx ends. Loading starts
// at once in the background; requests arriving meanwhile wait in a bounded
// queue and are answered in order once loading finishes. Messages with no
// recognizable type are logged and skipped.
func (s *Session) Run(ctx context.Context, inbox <-chan []byte) error {
	loaded := make(chan loadResult, 1)
	var queue []inbound

	startLoad := func() {
		s.state = Loading
		go func() { loaded <- s.load(ctx) }()
	}
	if s.state == Uninitialized {
		startLoad()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-loaded:
			s.finishLoad(res)
			pending := queue
			queue = nil
			for _, in := range pending {
				var err error
				if res.err != nil && in.err == nil {
					err = s.out.Send(ctx, protocol.Reject(in.req.Type, res.err))
				} else {
					err = s.answer(ctx, in)
				}
				if err != nil {
					return err
				}
			}

		case raw, ok := <-inbox:
			if !ok {
				return nil
			}
			in, err := decode(raw)
			if err != nil {
				s.log.Warn("dropping message", zap.Error(err))
				continue
			}

			switch {
			case s.state == Loading:
				if len(queue) >= s.queueSize {
					if err := s.out.Send(ctx, protocol.Busy(in.req.Type)); err != nil {
						return err
					}
					continue
				}
				queue = append(queue, in)
			case s.state == Uninitialized && in.req.Type == protocol.Ready:
				queue = append(queue, in)
				startLoad()
			default:
				if err := s.answer(ctx, in); err != nil {
					return err
				}
			}
		}
	}
}
