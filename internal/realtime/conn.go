// Package realtime – connections
//
// This file models one authenticated, long-lived client connection. A Conn
// owns a buffered outbound queue drained by a single write pump goroutine;
// everything else in the process hands frames to the queue through TrySend,
// which never blocks. A full or closed queue drops the frame, matching the
// best-effort delivery contract: the durable notification record, not the
// live push, is the source of truth.
package realtime

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	// sendBuffer caps queued outbound frames per connection.
	sendBuffer = 64
	// writeTimeout bounds a single frame write on the socket.
	writeTimeout = 10 * time.Second
)

// socket is the subset of *websocket.Conn the realtime layer touches.
// Tests substitute in-memory implementations.
type socket interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Conn is one registered client connection.
type Conn struct {
	// ID is the server-assigned connection identifier (UUIDv4).
	ID string
	// UserID is the resolved identity behind the connection.
	UserID string
	// DisplayName is the identity's human-readable name.
	DisplayName string

	sock      socket
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn wraps an accepted socket. The write pump is started separately by
// the gateway once the connection is registered.
func NewConn(id, userID, displayName string, sock socket) *Conn {
	return &Conn{
		ID:          id,
		UserID:      userID,
		DisplayName: displayName,
		sock:        sock,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
}

// TrySend queues a frame for delivery. It returns false, without blocking,
// when the connection is closed or its queue is full.
func (c *Conn) TrySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// TrySendEvent encodes ev and queues it. Encoding failures count as a drop.
func (c *Conn) TrySendEvent(ev Event) bool {
	frame, err := ev.Encode()
	if err != nil {
		return false
	}
	return c.TrySend(frame)
}

// Close tears the connection down. Safe to call any number of times and from
// any goroutine.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.sock != nil {
			_ = c.sock.Close(code, reason)
		}
	})
}

// Done reports connection teardown to observers.
func (c *Conn) Done() <-chan struct{} { return c.done }

// writePump drains the send queue onto the socket. It exits on context
// cancellation, connection close, or the first write error; a write error
// also closes the connection so the read loop unblocks.
func (c *Conn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-c.done:
			return
		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.sock.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}
