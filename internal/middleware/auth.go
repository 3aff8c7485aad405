package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"community-events/internal/auth"
	"community-events/internal/identity"
)

// UsernameKey is where Authenticate leaves the caller on the gin context.
const UsernameKey = "username"

// bearer strips the scheme from an Authorization value.
func bearer(v string) string {
	if len(v) > 7 && strings.EqualFold(v[:7], "Bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// resolve turns a raw token into a username. No token means anonymous.
func resolve(raw, secret string) (string, error) {
	if raw == "" {
		return "", nil
	}
	claims, err := auth.ParseToken(raw, secret)
	if err != nil {
		return "", err
	}
	return claims.Username(), nil
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// StreamAuth reads "authorization: Bearer <jwt>" and records the username
// for identity.ContextProvider. Callers without a token stay anonymous; a
// bad token is refused.
func StreamAuth(secret string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		ctx := ss.Context()

		raw := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				raw = bearer(vals[0])
			}
		}

		username, err := resolve(raw, secret)
		if err != nil {
			return status.Error(codes.Unauthenticated, "bad token")
		}
		if username != "" {
			ctx = identity.WithUsername(ctx, username)
		}
		return next(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

// Authenticate is the HTTP counterpart of StreamAuth. Browsers cannot set
// headers on a websocket upgrade, so the token may also come from the
// access_token cookie or the token query parameter.
func Authenticate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" {
			raw, _ = c.Cookie("access_token")
		}
		if raw == "" {
			raw = c.Query("token")
		}

		username, err := resolve(raw, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad token"})
			return
		}
		if username != "" {
			c.Set(UsernameKey, username)
			c.Request = c.Request.WithContext(identity.WithUsername(c.Request.Context(), username))
		}
		c.Next()
	}
}
