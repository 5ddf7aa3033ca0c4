package hypercube

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	typ  int
	data []byte
}

// fakeConn is an in-memory Conn. The peer answers a close frame the way
// gorilla's default close handler does, which ends ReadMessage.
type fakeConn struct {
	in chan frame

	mu       sync.Mutex
	out      []frame
	controls []frame
	writeErr error

	closeReply chan struct{}
	replyOnce  sync.Once
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:         make(chan frame, 64),
		closeReply: make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		return f.typ, f.data, nil
	case <-c.closeReply:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.out = append(c.out, frame{typ: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	c.mu.Lock()
	c.controls = append(c.controls, frame{typ: messageType, data: data})
	c.mu.Unlock()
	if messageType == websocket.CloseMessage {
		c.replyOnce.Do(func() { close(c.closeReply) })
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// hangUp simulates the peer going away without a close frame.
func (c *fakeConn) hangUp() {
	_ = c.Close()
}

func (c *fakeConn) sendText(text string) {
	c.in <- frame{typ: websocket.TextMessage, data: []byte(text)}
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.out))
	for _, f := range c.out {
		out = append(out, string(f.data))
	}
	return out
}

func (c *fakeConn) closeFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.controls {
		if f.typ == websocket.CloseMessage {
			n++
		}
	}
	return n
}

var errWriteFailed = errors.New("write failed")

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

// serveFake serves a fake connection on sc in the background. The
// returned channel is closed once Serve returns.
func serveFake(t *testing.T, sc *Scope) (*fakeConn, <-chan struct{}) {
	t.Helper()
	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc.Serve(conn, nil)
	}()
	t.Cleanup(func() {
		conn.hangUp()
		waitClosed(t, done)
	})
	return conn, done
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel to close")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recorder collects hook and handler invocations.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.list() {
		if c == call {
			n++
		}
	}
	return n
}
