// Package grpcstream serves sessions over a bidirectional gRPC stream. Each
// frame carries one protocol JSON message.
package grpcstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"community-events/internal/identity"
	"community-events/internal/protocol"
	"community-events/internal/session"
)

const (
	ServiceName   = "events.v1.EventService"
	SessionMethod = "/" + ServiceName + "/Session"

	// PostIDHeader names the post a stream is about.
	PostIDHeader = "x-post-id"
)

type sessionServer interface {
	Session(grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*sessionServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Session",
		Handler:       sessionHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "events/v1/events.proto",
}

func sessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(sessionServer).Session(stream)
}

// ServerOption returns the codec option the server must be built with.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(frameCodec{})
}

type Server struct {
	sessions *session.Factory
	log      *zap.Logger
}

func NewServer(f *session.Factory, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{sessions: f, log: log}
}

func (s *Server) Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&serviceDesc, s)
}

func postID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(PostIDHeader); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Session runs one session for the life of the stream.
func (s *Server) Session(stream grpc.ServerStream) error {
	ctx := stream.Context()
	post := postID(ctx)
	if post == "" {
		return status.Error(codes.InvalidArgument, PostIDHeader+" required")
	}
	log := s.log.With(zap.String("post", post), zap.String("user", identity.UsernameFrom(ctx)))

	send := session.SenderFunc(func(_ context.Context, resp protocol.Response) error {
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return stream.SendMsg(&Frame{Payload: data})
	})

	inbox := make(chan []byte)
	go func() {
		defer close(inbox)
		for {
			var f Frame
			if err := stream.RecvMsg(&f); err != nil {
				if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
					log.Debug("stream recv", zap.Error(err))
				}
				return
			}
			select {
			case inbox <- f.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("session stream opened")
	err := s.sessions.Session(post, send).Run(ctx, inbox)
	log.Info("session stream closed")

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		log.Warn("session ended", zap.Error(err))
		return status.Error(codes.Unavailable, "session send failed")
	}
}
