// WebSocket entry point.
//
// This file exposes the live-connection endpoint:
//   - GET /ws   (upgrade to WebSocket, then hand off to the realtime gateway)
//
// The handler owns exactly two concerns: extracting the bearer credential
// from the handshake (Authorization header or, for browser clients that
// cannot set headers on WebSocket, a "token" query parameter) and performing
// the protocol upgrade. Everything after the upgrade — identity resolution,
// registration, the operation loop, teardown — belongs to the gateway. An
// unresolvable credential closes the socket with a policy-violation status
// before any room is joined.
package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"github.com/tbourn/go-collab-backend/internal/http/middleware"
)

// ConnectionGateway serves one accepted live connection until it closes.
// Implemented by realtime.Gateway.
type ConnectionGateway interface {
	ServeConn(ctx context.Context, sock *websocket.Conn, credential string) error
}

// WSHandler upgrades HTTP requests to live connections and hands them to the
// gateway.
type WSHandler struct {
	gateway ConnectionGateway
	// originPatterns restricts WebSocket origins; empty allows any origin
	// (development posture, mirrors the CORS default).
	originPatterns []string
}

// NewWS constructs a WSHandler bound to the given gateway and allowed origin
// patterns (typically cfg.CORS.AllowedOrigins).
func NewWS(gw ConnectionGateway, originPatterns []string) *WSHandler {
	return &WSHandler{gateway: gw, originPatterns: originPatterns}
}

// credentialFrom extracts the bearer credential from the handshake request.
// Authorization header wins; the "token" query parameter is the browser
// fallback.
func credentialFrom(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

// Connect godoc
// @ID          wsConnect
// @Summary     Open a live connection
// @Description Upgrades to WebSocket and serves the realtime event protocol. The bearer credential is taken from the Authorization header or the "token" query parameter; an invalid credential closes the socket immediately after the upgrade.
// @Tags        Realtime
//
// @Param       Authorization  header  string  false "Bearer credential"
// @Param       token          query   string  false "Credential fallback for browser clients"
//
// @Success     101  {string} string "Switching Protocols"
// @Failure     400  {object} handlers.ErrorResponse "Upgrade failed"
// @Router      /ws [get]
func (h *WSHandler) Connect(c *gin.Context) {
	credential := credentialFrom(c)

	opts := &websocket.AcceptOptions{}
	if len(h.originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.originPatterns
	}

	sock, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		// Accept has already written its own failure response; log only.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// Serve blocks for the life of the connection. The request context ends
	// when the handler returns, so serve on the background context and let
	// the gateway's teardown own the socket lifecycle.
	_ = h.gateway.ServeConn(context.Background(), sock, credential)
}
