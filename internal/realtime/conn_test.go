package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// fakeSock is an in-memory socket for exercising pumps and the gateway
// without a network.
type fakeSock struct {
	mu       sync.Mutex
	wrote    [][]byte
	writeErr error

	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeCode websocket.StatusCode
}

func newFakeSock() *fakeSock {
	return &fakeSock{
		in:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (s *fakeSock) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case frame := <-s.in:
		return websocket.MessageText, frame, nil
	case <-s.done:
		return 0, nil, errors.New("socket closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (s *fakeSock) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	s.wrote = append(s.wrote, cp)
	return nil
}

func (s *fakeSock) Close(code websocket.StatusCode, _ string) error {
	s.closeOnce.Do(func() {
		s.closeCode = code
		close(s.done)
	})
	return nil
}

func (s *fakeSock) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.wrote...)
}

func (s *fakeSock) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTrySend_DropsWhenFullOrClosed(t *testing.T) {
	c := NewConn("c1", "u1", "User", newFakeSock())

	// No pump running: the buffer fills and the next send is refused.
	for i := 0; i < sendBuffer; i++ {
		if !c.TrySend([]byte(fmt.Sprintf("frame-%d", i))) {
			t.Fatalf("send %d refused before buffer full", i)
		}
	}
	if c.TrySend([]byte("overflow")) {
		t.Fatalf("expected drop on full buffer")
	}

	c.Close(websocket.StatusNormalClosure, "")
	if c.TrySend([]byte("after close")) {
		t.Fatalf("expected drop on closed connection")
	}
}

func TestClose_Idempotent(t *testing.T) {
	sock := newFakeSock()
	c := NewConn("c1", "u1", "User", sock)

	c.Close(websocket.StatusNormalClosure, "bye")
	c.Close(websocket.StatusNormalClosure, "again")

	if !sock.closed() {
		t.Fatalf("underlying socket not closed")
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done channel not closed")
	}
}

func TestWritePump_DeliversFrames(t *testing.T) {
	sock := newFakeSock()
	c := NewConn("c1", "u1", "User", sock)
	go c.writePump(context.Background())
	defer c.Close(websocket.StatusNormalClosure, "")

	if !c.TrySend([]byte(`{"type":"x"}`)) {
		t.Fatalf("TrySend refused")
	}
	waitFor(t, "frame on socket", func() bool { return len(sock.written()) == 1 })

	if got := string(sock.written()[0]); got != `{"type":"x"}` {
		t.Fatalf("wrote %q", got)
	}
}

func TestWritePump_ClosesOnWriteError(t *testing.T) {
	sock := newFakeSock()
	sock.writeErr = errors.New("broken pipe")
	c := NewConn("c1", "u1", "User", sock)
	go c.writePump(context.Background())

	c.TrySend([]byte("doomed"))

	waitFor(t, "connection close after write error", func() bool {
		select {
		case <-c.Done():
			return true
		default:
			return false
		}
	})
	if !sock.closed() {
		t.Fatalf("socket not closed after write error")
	}
}

func TestWritePump_StopsOnContextCancel(t *testing.T) {
	sock := newFakeSock()
	c := NewConn("c1", "u1", "User", sock)
	ctx, cancel := context.WithCancel(context.Background())
	go c.writePump(ctx)

	cancel()

	waitFor(t, "close on context cancel", func() bool { return sock.closed() })
	if sock.closeCode != websocket.StatusGoingAway {
		t.Fatalf("close code = %v, want StatusGoingAway", sock.closeCode)
	}
}
