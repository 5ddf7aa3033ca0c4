package hypercube

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/hypercube/pkg/protocol"
)

// Outcome classifies how an inbound frame was routed.
type Outcome string

const (
	OutcomeHandled      Outcome = "handled"       // A callback or function ran
	OutcomeParseError   Outcome = "parse_error"   // Malformed envelope
	OutcomeDecodeError  Outcome = "decode_error"  // Data did not match the function's type
	OutcomeUnknownEvent Outcome = "unknown_event" // No handler of the matching kind
	OutcomePanic        Outcome = "panic"         // The handler panicked
)

// Dispatch describes the routing of one inbound text frame. Middleware
// reads it after calling next.
type Dispatch struct {
	// Path is the path the Scope is bound to.
	Path string

	// Session is the connection the frame arrived on.
	Session *Session

	// Event is the envelope's event name. Empty until the frame is decoded.
	Event string

	// Size is the frame length in bytes.
	Size int

	// Outcome and Err are set once routing is complete.
	Outcome Outcome
	Err     error

	ctx context.Context
}

// Context returns the dispatch context, derived from the session context.
func (d *Dispatch) Context() context.Context {
	if d.ctx == nil {
		return context.Background()
	}
	return d.ctx
}

// SetContext replaces the dispatch context, for example to carry a span.
func (d *Dispatch) SetContext(ctx context.Context) {
	d.ctx = ctx
}

// Middleware wraps the routing of an inbound frame. It must call next
// exactly once. Middleware observes routing but cannot change it.
type Middleware func(d *Dispatch, next func())

// serve runs the dispatch loop for one admitted connection. It returns
// once the stream has ended, the session has been removed from the
// registry and the close hook has run.
func (sc *Scope) serve(sess *Session) {
	sc.logger.Info("session opened",
		"session_id", sess.ID,
		"active_sessions", sc.sessions.Count())

	defer sc.teardown(sess)

	if sc.config.PingPeriod > 0 {
		go sess.pingLoop(sc.config.PingPeriod)
	}

	if hook := sc.table.onOpen; hook != nil {
		sc.safeCall(sess, "open", func() { hook(sess) })
	}

	sc.readLoop(sess)
}

// teardown removes the session, releases the transport and runs the
// close hook, in that order.
func (sc *Scope) teardown(sess *Session) {
	defer close(sess.done)

	sc.sessions.Remove(sess)
	sess.release()

	sc.logger.Info("session closed",
		"session_id", sess.ID,
		"duration", time.Since(sess.CreatedAt),
		"active_sessions", sc.sessions.Count())

	if hook := sc.table.onClose; hook != nil {
		id := sess.ID
		sc.safeCall(sess, "close", func() { hook(id) })
	}
}

// readLoop reads frames until the stream ends. Each frame is routed to
// completion before the next is read.
func (sc *Scope) readLoop(sess *Session) {
	for {
		messageType, msg, err := sess.conn.ReadMessage()
		if err != nil {
			if !sess.IsClosed() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				sess.logger.Error("read error", "error", err)
			} else {
				sess.logger.Debug("stream ended", "error", err)
			}
			return
		}

		// Draining until the peer answers our close frame.
		if sess.IsClosed() {
			continue
		}

		if messageType != websocket.TextMessage {
			continue
		}

		sc.dispatch(sess, msg)
	}
}

// dispatch runs the middleware chain around route for one frame.
func (sc *Scope) dispatch(sess *Session, msg []byte) {
	d := &Dispatch{
		Path:    sc.path,
		Session: sess,
		Size:    len(msg),
		ctx:     sess.ctx,
	}

	next := func() { sc.route(d, msg) }
	for i := len(sc.middleware) - 1; i >= 0; i-- {
		mw, inner := sc.middleware[i], next
		next = func() { mw(d, inner) }
	}
	next()
}

// route decodes the envelope, resolves its handler and runs it or the
// matching error hook.
func (sc *Scope) route(d *Dispatch, msg []byte) {
	sess := d.Session

	env, err := protocol.Decode(msg)
	if err != nil {
		d.Outcome, d.Err = OutcomeParseError, err
		sc.parsingError(sess, err)
		return
	}
	d.Event = env.Event

	h, ok := sc.table.lookup(env.Event, env.HasData())
	if !ok {
		d.Outcome = OutcomeUnknownEvent
		d.Err = &EventError{Event: env.Event, Err: ErrUnknownEvent}
		sess.logger.Debug("unknown event", "event", env.Event, "has_data", env.HasData())
		if hook := sc.table.onUnknownEvent; hook != nil {
			sc.safeCall(sess, "unknown_event", func() { hook(sess, env.Event) })
		}
		return
	}

	call := h.callback
	if h.kind == kindFunction {
		call, err = h.bind(env.Data)
		if err != nil {
			d.Outcome = OutcomeDecodeError
			d.Err = &EventError{Event: env.Event, Err: err}
			sc.parsingError(sess, d.Err)
			return
		}
	}

	if err := sc.safeCall(sess, env.Event, func() { call(sess) }); err != nil {
		d.Outcome, d.Err = OutcomePanic, err
		return
	}
	d.Outcome = OutcomeHandled
}

func (sc *Scope) parsingError(sess *Session, err error) {
	sess.logger.Debug("parsing error", "error", err)
	if hook := sc.table.onParsingError; hook != nil {
		sc.safeCall(sess, "parsing_error", func() { hook(sess) })
	}
}

// safeCall runs fn and converts a panic into an error wrapping
// ErrHandlerPanic. The session stays open.
func (sc *Scope) safeCall(sess *Session, name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, name, r)
			sess.logger.Error("handler panic",
				"handler", name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
	return nil
}
