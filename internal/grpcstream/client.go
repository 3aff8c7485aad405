package grpcstream

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"community-events/internal/protocol"
)

// Client opens session streams on an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Stream is the client end of one session. Send and Recv may be used from
// different goroutines, but neither from more than one.
type Stream struct {
	cs grpc.ClientStream
}

// Open starts a session for postID. A non-empty token is sent as a bearer
// credential.
func (c *Client) Open(ctx context.Context, postID, token string) (*Stream, error) {
	md := metadata.Pairs(PostIDHeader, postID)
	if token != "" {
		md.Set("authorization", "Bearer "+token)
	}
	ctx = metadata.NewOutgoingContext(ctx, md)

	cs, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], SessionMethod, grpc.ForceCodec(frameCodec{}))
	if err != nil {
		return nil, err
	}
	return &Stream{cs: cs}, nil
}

func (s *Stream) Send(req protocol.Request) error {
	raw, err := protocol.Encode(req)
	if err != nil {
		return err
	}
	return s.SendRaw(raw)
}

// SendRaw sends a payload as-is.
func (s *Stream) SendRaw(raw []byte) error {
	return s.cs.SendMsg(&Frame{Payload: raw})
}

func (s *Stream) Recv() (protocol.RawResponse, error) {
	var f Frame
	if err := s.cs.RecvMsg(&f); err != nil {
		return protocol.RawResponse{}, err
	}
	var resp protocol.RawResponse
	err := json.Unmarshal(f.Payload, &resp)
	return resp, err
}

// Close ends the sending side; the server then closes the session.
func (s *Stream) Close() error {
	return s.cs.CloseSend()
}
