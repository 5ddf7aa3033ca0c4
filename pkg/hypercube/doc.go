// Package hypercube multiplexes named events over websocket connections.
//
// A Scope binds a handler table and a session Registry to one accept
// path. Every accepted connection gets a Session and a dispatch loop that
// reads text frames, decodes {"event","data"} envelopes (see package
// protocol) and runs the handler registered for the event.
//
// # Handlers
//
// There are two kinds of handlers, selected by whether the envelope
// carries data:
//
//   - Callbacks, registered with Scope.On, run for envelopes without data.
//   - Functions, registered with the generic On, run for envelopes with
//     data. The data is decoded into the function's parameter type first.
//
// An event name holds one handler. Registering a name again replaces the
// previous handler whatever its kind. An envelope whose data presence does
// not match the registered kind is an unknown event.
//
// Four hooks cover the connection lifecycle and routing failures: OnOpen,
// OnClose, OnParsingError and OnUnknownEvent. Unset hooks drop the event.
//
// # Example
//
//	r := chi.NewRouter()
//	hypercube.Mount(r, "/ws", nil, func(sc *hypercube.Scope) {
//	    sc.OnOpen(func(s *hypercube.Session) {
//	        s.Emit("welcome", s.ID)
//	    })
//	    sc.On("ping", func(s *hypercube.Session) {
//	        s.Send("pong")
//	    })
//	    hypercube.On(sc, "message", func(s *hypercube.Session, msg string) {
//	        sc.Broadcast("message", msg)
//	    })
//	})
//
// # Lifecycle
//
// A Session is added to the Registry before the open hook runs. When the
// stream ends, because the peer went away, the transport failed or a
// handler called Session.Close, the session is removed from the Registry
// and then the close hook runs with the session ID.
//
// # Concurrency
//
// Frames of one connection are routed in arrival order and each handler
// returns before the next frame is read. Different connections run on
// their own goroutines. Broadcasts write to a snapshot of the Registry
// without holding its lock, so they may interleave with any recipient's
// own routing.
//
// Parsing errors, payload decode errors, unknown events and handler panics
// never end a connection. Sends to a closed session are dropped.
package hypercube
