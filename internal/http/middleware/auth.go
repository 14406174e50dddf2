// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the authentication gates for the REST surface:
//
//   - Authenticate() resolves a bearer credential to a user identity and
//     stores it in the Gin context under "userID" (and "displayName"), where
//     handlers, the rate limiter, and the access log pick it up. Requests
//     without a resolvable credential are rejected with 401 before any
//     handler runs.
//   - RequireInternalKey() guards the service-to-service producer endpoints
//     with a shared secret carried in X-Internal-Key. Comparison is constant
//     time.
//
// Live connections do not pass through Authenticate: the WebSocket handshake
// carries its credential to the realtime gateway, which runs the same
// resolver itself before registering the connection.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-collab-backend/internal/auth"
)

// HeaderInternalKey is the request header internal producers use to present
// the shared service key.
const HeaderInternalKey = "X-Internal-Key"

// IdentityResolver verifies bearer credentials. Implemented by auth.Resolver.
type IdentityResolver interface {
	Resolve(credential string) (auth.Identity, error)
}

// Authenticate returns a middleware that requires a valid bearer credential
// on every request it wraps.
//
// Behavior:
//   - Reads the Authorization header ("Bearer <token>").
//   - Resolves it via the given resolver; failures get a 401 JSON envelope
//     with the request id, and the handler chain is aborted.
//   - On success, stashes "userID" and "displayName" in the Gin context.
func Authenticate(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := bearerToken(c)
		id, err := resolver.Resolve(credential)
		if err != nil {
			rid, _ := c.Get(requestIDKey)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": asString(rid),
				"code":       "unauthorized",
				"message":    "missing or invalid credentials",
			})
			return
		}
		c.Set("userID", id.UserID)
		c.Set("displayName", id.DisplayName)
		c.Next()
	}
}

// RequireInternalKey returns a middleware that admits only requests carrying
// the configured shared key in X-Internal-Key. An empty configured key
// rejects everything: producer endpoints fail closed rather than open.
func RequireInternalKey(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderInternalKey))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			rid, _ := c.Get(requestIDKey)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": asString(rid),
				"code":       "unauthorized",
				"message":    "missing or invalid internal key",
			})
			return
		}
		c.Next()
	}
}

// bearerToken extracts the token from the Authorization header. The scheme
// prefix is matched case-insensitively; a bare token is passed through so
// dev tooling can skip the prefix.
func bearerToken(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if h == "" {
		return ""
	}
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}
