// Package web is the HTTP surface: read-only snapshots, an iCalendar feed
// and sessions over websocket.
package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"community-events/internal/middleware"
	"community-events/internal/model"
	"community-events/internal/session"
	"community-events/internal/store"
)

type Options struct {
	Secret string
	// Limiter, when set, throttles every route but /health.
	Limiter *middleware.RateLimiter
	// Origins are host patterns allowed to open a websocket from a browser.
	Origins []string
	Logger  *zap.Logger
	Now     func() time.Time
}

type Server struct {
	sessions *session.Factory
	opts     Options
	log      *zap.Logger
	engine   *gin.Engine
}

func NewServer(f *session.Factory, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{sessions: f, opts: opts, log: opts.Logger}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(s.log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	posts := r.Group("/posts/:postID")
	if s.opts.Limiter != nil {
		posts.Use(middleware.RateLimit(s.opts.Limiter))
	}
	posts.Use(middleware.Authenticate(s.opts.Secret))
	posts.GET("/events", s.listEvents)
	posts.GET("/events.ics", s.exportICS)
	posts.GET("/session", s.serveSession)
	return r
}

func requestLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// eventView is an event as shown to readers, with its derived status.
type eventView struct {
	model.Event
	Status model.Status `json:"status"`
}

func (s *Server) load(c *gin.Context) (model.EventList, bool) {
	list, err := s.sessions.Store(c.Param("postID")).Load(c.Request.Context())
	if err != nil {
		errorResponse(c, s.log, err)
		return nil, false
	}
	return list, true
}

func (s *Server) listEvents(c *gin.Context) {
	list, ok := s.load(c)
	if !ok {
		return
	}

	categories := list.Categories()
	if categories == nil {
		categories = []string{}
	}

	now := s.opts.Now()
	shown := list.FilterCategory(c.Query("category")).SortedByStart()
	views := make([]eventView, len(shown))
	for i := range shown {
		views[i] = eventView{Event: shown[i], Status: shown[i].StatusAt(now)}
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"post":       c.Param("postID"),
		"events":     views,
		"categories": categories,
	}})
}

func errorResponse(c *gin.Context, log *zap.Logger, err error) {
	code := http.StatusInternalServerError
	msg := "internal error"
	if errors.Is(err, store.ErrUnavailable) {
		code = http.StatusServiceUnavailable
		msg = store.ErrUnavailable.Error()
	}
	log.Error("http error", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(code, gin.H{"error": msg})
}
