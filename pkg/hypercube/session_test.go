package hypercube

import (
	"context"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
)

func TestSession_SendAndEmit(t *testing.T) {
	s, conn := newTestSession(t)

	s.Send("raw text")
	s.Emit("message", "hi")
	s.Emit("ping", nil)
	s.Emit("user", struct {
		Old string `json:"old"`
		New string `json:"new"`
	}{"user1", "milo"})

	want := []string{
		"raw text",
		`{"event":"message","data":"hi"}`,
		`{"event":"ping"}`,
		`{"event":"user","data":{"old":"user1","new":"milo"}}`,
	}
	got := conn.sent()
	if len(got) != len(want) {
		t.Fatalf("sent = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sent[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	for _, f := range conn.out {
		if f.typ != websocket.TextMessage {
			t.Fatalf("frame type = %d, want text", f.typ)
		}
	}
}

func TestSession_WriteAfterCloseFails(t *testing.T) {
	s, conn := newTestSession(t)
	s.Close()

	err := s.write(websocket.TextMessage, []byte("x"))
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("write() error = %v, want ErrSessionClosed", err)
	}
	var se *SessionError
	if !errors.As(err, &se) || se.SessionID != s.ID || se.Op != "send" {
		t.Fatalf("write() error = %#v, want *SessionError for %s", err, s.ID)
	}

	// Send and Emit swallow the error.
	s.Send("x")
	s.Emit("x", 1)
	if got := conn.sent(); len(got) != 0 {
		t.Fatalf("sent after close = %v", got)
	}
}

func TestSession_WriteErrorIsWrapped(t *testing.T) {
	s, conn := newTestSession(t)
	conn.writeErr = errWriteFailed

	err := s.write(websocket.TextMessage, []byte("x"))
	if !errors.Is(err, errWriteFailed) {
		t.Fatalf("write() error = %v, want errWriteFailed", err)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, conn := newTestSession(t)

	s.Close()
	s.Close()

	if n := conn.closeFrames(); n != 1 {
		t.Fatalf("close frames = %d, want 1", n)
	}
	if !s.IsClosed() {
		t.Fatal("IsClosed() = false after Close")
	}
	if !errors.Is(s.Context().Err(), context.Canceled) {
		t.Fatalf("Context().Err() = %v, want context.Canceled", s.Context().Err())
	}
}

func TestSession_IdentityAndOrdering(t *testing.T) {
	a, _ := newTestSession(t)
	b, _ := newTestSession(t)

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("session IDs %q and %q must be non-empty and distinct", a.ID, b.ID)
	}
	if a.Compare(a) != 0 {
		t.Fatal("Compare(self) != 0")
	}
	if a.Compare(b) != -b.Compare(a) {
		t.Fatal("Compare is not antisymmetric")
	}
	if a.Request() != nil {
		t.Fatal("Request() != nil for a session served without HTTP")
	}
}
