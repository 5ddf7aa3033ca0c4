package hypercube

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/hypercube/pkg/protocol"
)

// Conn is the part of a websocket connection a Session needs.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is the server-side handle to one connected client.
//
// Send, Emit and Close are safe to call from any goroutine, including
// handlers of other sessions broadcasting through the Registry.
type Session struct {
	// ID is a random token assigned when the connection is accepted.
	ID string

	// CreatedAt is when the connection was accepted.
	CreatedAt time.Time

	conn    Conn
	request *http.Request

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes data frames; gorilla allows one concurrent writer.
	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}

	writeTimeout time.Duration
	closeGrace   time.Duration

	logger *slog.Logger
}

func newSession(conn Conn, r *http.Request, config *Config) *Session {
	id := uuid.NewString()

	parent := context.Background()
	if r != nil {
		parent = context.WithoutCancel(r.Context())
	}
	ctx, cancel := context.WithCancel(parent)

	return &Session{
		ID:           id,
		CreatedAt:    time.Now(),
		conn:         conn,
		request:      r,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		writeTimeout: config.WriteTimeout,
		closeGrace:   config.CloseGracePeriod,
		logger:       config.Logger.With("session_id", id),
	}
}

// Send writes raw text to the client. Delivery failures, including
// sending on a closed session, are logged and dropped.
func (s *Session) Send(text string) {
	if err := s.write(websocket.TextMessage, []byte(text)); err != nil {
		s.logger.Debug("send dropped", "error", err)
	}
}

// Emit encodes an envelope for event and data and sends it. A nil data is
// omitted from the envelope.
func (s *Session) Emit(event string, data any) {
	text, err := protocol.Encode(event, data)
	if err != nil {
		s.logger.Error("emit encode error", "event", event, "error", err)
		return
	}
	s.Send(text)
}

// Close sends a close frame and shuts the session down. The close hook is
// not run here: the dispatch loop observes the end of the stream, removes
// the session from its Registry and then runs the hook.
//
// Frames that arrive after Close are discarded. Calling Close more than
// once has no effect.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.cancel()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout)); err != nil {
		s.logger.Debug("close frame dropped", "error", err)
	}

	// Wait for the peer's close reply, but not forever.
	_ = s.conn.SetReadDeadline(time.Now().Add(s.closeGrace))
}

// write sends one data frame.
func (s *Session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return &SessionError{SessionID: s.ID, Op: "send", Err: ErrSessionClosed}
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return &SessionError{SessionID: s.ID, Op: "send", Err: err}
	}
	return nil
}

// ping writes a ping control frame.
func (s *Session) ping() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// pingLoop pings the client every period until the session ends.
func (s *Session) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.ping(); err != nil {
				s.logger.Debug("ping failed", "error", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// release marks the session closed and closes the transport once the
// dispatch loop has exited.
func (s *Session) release() {
	s.closed.Store(true)
	s.cancel()
	_ = s.conn.Close()
}

// IsClosed reports whether the session no longer accepts outbound frames.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done returns a channel that is closed once the session's dispatch loop
// has exited, its transport is released and the close hook has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Context returns a context that is canceled when the session closes.
// It carries the values of the upgrade request's context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Request returns the HTTP request that opened the connection, or nil for
// sessions served directly on a Conn.
func (s *Session) Request() *http.Request {
	return s.request
}

// Logger returns the session's logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Compare orders sessions by ID.
func (s *Session) Compare(other *Session) int {
	return strings.Compare(s.ID, other.ID)
}
