package hypercube

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Scope binds one handler table and one Registry to an accept path.
//
// Handlers and hooks are registered in the setup function passed to
// NewScope or Mount. Registration after the scope has started serving
// panics: the handler table is read without locks by every connection.
type Scope struct {
	path       string
	config     *Config
	table      handlerTable
	sessions   *Registry
	middleware []Middleware
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	sealed atomic.Bool

	// admitMu orders admission against Shutdown's snapshot.
	admitMu sync.Mutex
	closing atomic.Bool
}

// NewScope creates a Scope for path and runs setup to register its
// handlers. A nil cfg uses DefaultConfig.
//
//	sc := hypercube.NewScope("/ws", nil, func(sc *hypercube.Scope) {
//	    sc.On("ping", func(s *hypercube.Session) { s.Send("pong") })
//	})
//	http.Handle("/ws", sc)
func NewScope(path string, cfg *Config, setup func(*Scope)) *Scope {
	if path == "" {
		path = "/"
	}
	config := cfg.withDefaults()
	logger := config.Logger.With("component", "hypercube", "path", path)

	for _, warning := range config.warnings() {
		logger.Warn("config warning", "warning", warning)
	}

	sc := &Scope{
		path:       path,
		config:     config,
		table:      newHandlerTable(),
		sessions:   NewRegistry(),
		middleware: config.Middleware,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			EnableCompression: config.EnableCompression,
			CheckOrigin:       config.CheckOrigin,
		},
		logger: logger,
	}

	if setup != nil {
		setup(sc)
	}
	sc.sealed.Store(true)
	return sc
}

// Mount creates a Scope for path and routes it on r.
func Mount(r chi.Router, path string, cfg *Config, setup func(*Scope)) *Scope {
	sc := NewScope(path, cfg, setup)
	r.Method(http.MethodGet, path, sc)
	return sc
}

func (sc *Scope) mustBeInSetup() {
	if sc.sealed.Load() {
		panic("hypercube: handlers must be registered during scope setup")
	}
}

// Path returns the path the scope is bound to.
func (sc *Scope) Path() string {
	return sc.path
}

// Sessions returns the scope's session registry.
func (sc *Scope) Sessions() *Registry {
	return sc.sessions
}

// Broadcast emits event and data to every open session of the scope.
func (sc *Scope) Broadcast(event string, data any) error {
	return sc.sessions.Broadcast(event, data)
}

// BroadcastRaw sends raw text to every open session of the scope.
func (sc *Scope) BroadcastRaw(text string) {
	sc.sessions.BroadcastRaw(text)
}

// ServeHTTP upgrades the request to a websocket and serves it until the
// connection ends.
func (sc *Scope) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if sc.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := sc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		sc.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	if sc.config.MaxFrameSize > 0 {
		conn.SetReadLimit(sc.config.MaxFrameSize)
	}

	sc.Serve(conn, r)
}

// Serve runs the dispatch loop on an accepted connection and blocks until
// it ends. r may be nil. Connections served after Shutdown are closed
// immediately.
func (sc *Scope) Serve(conn Conn, r *http.Request) {
	sess := newSession(conn, r, sc.config)
	if sc.config.PingPeriod > 0 {
		sc.armKeepAlive(conn, sess)
	}

	if !sc.admit(sess) {
		sess.Close()
		sess.release()
		close(sess.done)
		return
	}

	sc.serve(sess)
}

// admit registers sess unless the scope is shutting down. Every admitted
// session is visible to Shutdown.
func (sc *Scope) admit(sess *Session) bool {
	sc.admitMu.Lock()
	defer sc.admitMu.Unlock()
	if sc.closing.Load() {
		return false
	}
	sc.sessions.Add(sess)
	return true
}

// pongHandlerSetter is implemented by *websocket.Conn.
type pongHandlerSetter interface {
	SetPongHandler(h func(appData string) error)
}

// armKeepAlive sets a read deadline that each pong pushes back.
func (sc *Scope) armKeepAlive(conn Conn, sess *Session) {
	ph, ok := conn.(pongHandlerSetter)
	if !ok {
		return
	}
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(sc.config.Timeout))
	}
	_ = extend()
	ph.SetPongHandler(func(string) error {
		if sess.IsClosed() {
			return nil
		}
		return extend()
	})
}

// Shutdown closes every open session and waits for their dispatch loops
// to finish or ctx to expire. New connections are refused afterwards.
func (sc *Scope) Shutdown(ctx context.Context) error {
	sc.admitMu.Lock()
	if sc.closing.Swap(true) {
		sc.admitMu.Unlock()
		return ErrScopeClosed
	}
	sessions := sc.sessions.Snapshot()
	sc.admitMu.Unlock()

	sc.logger.Info("shutting down", "active_sessions", len(sessions))

	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
