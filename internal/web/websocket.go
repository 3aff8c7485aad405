package web

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"community-events/internal/identity"
	"community-events/internal/protocol"
	"community-events/internal/session"
)

const readLimit = 64 << 10

// serveSession runs a session over a websocket; each text frame is one
// protocol message.
func (s *Server) serveSession(c *gin.Context) {
	post := c.Param("postID")
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.opts.Origins,
	})
	if err != nil {
		// Accept has already written the response
		s.log.Debug("websocket accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := s.log.With(zap.String("post", post), zap.String("user", identity.UsernameFrom(ctx)))

	send := session.SenderFunc(func(ctx context.Context, resp protocol.Response) error {
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, data)
	})

	inbox := make(chan []byte)
	go func() {
		defer close(inbox)
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
					log.Debug("websocket read", zap.Error(err))
				}
				return
			}
			if typ != websocket.MessageText {
				log.Warn("dropping binary frame")
				continue
			}
			select {
			case inbox <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("websocket session opened")
	err = s.sessions.Session(post, send).Run(ctx, inbox)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("websocket session ended", zap.Error(err))
		conn.Close(websocket.StatusInternalError, "session ended")
		return
	}
	log.Info("websocket session closed")
	conn.Close(websocket.StatusNormalClosure, "")
}
