package hypercube

import (
	"encoding/json"

	"github.com/vango-dev/hypercube/pkg/protocol"
)

type handlerKind uint8

const (
	kindCallback handlerKind = iota + 1
	kindFunction
)

// handler is one entry of a handler table: a payload-free callback or a
// function bound to a payload shape.
type handler struct {
	kind     handlerKind
	callback func(*Session)

	// bind decodes a payload and returns the call to run with it.
	bind func(raw json.RawMessage) (func(*Session), error)
}

// handlerTable maps event names to handlers and holds the lifecycle hooks.
// It is written during setup only and read concurrently afterwards.
type handlerTable struct {
	events map[string]handler

	onOpen         func(*Session)
	onClose        func(id string)
	onParsingError func(*Session)
	onUnknownEvent func(*Session, string)
}

func newHandlerTable() handlerTable {
	return handlerTable{events: make(map[string]handler)}
}

// lookup resolves event for the given path: function handlers when the
// envelope carries data, callbacks otherwise. A handler of the other kind
// does not match.
func (t *handlerTable) lookup(event string, hasData bool) (handler, bool) {
	h, ok := t.events[event]
	if !ok {
		return handler{}, false
	}
	want := kindCallback
	if hasData {
		want = kindFunction
	}
	return h, h.kind == want
}

// OnOpen sets the hook run when a connection is accepted, after the
// session is registered and before its first frame is routed.
func (sc *Scope) OnOpen(fn func(*Session)) {
	sc.mustBeInSetup()
	sc.table.onOpen = fn
}

// OnClose sets the hook run once a connection has ended and its session
// has been removed from the Registry. It receives the session ID only.
func (sc *Scope) OnClose(fn func(id string)) {
	sc.mustBeInSetup()
	sc.table.onClose = fn
}

// OnParsingError sets the hook run when a frame is not a valid envelope
// or its data does not decode into the handler's payload type.
func (sc *Scope) OnParsingError(fn func(*Session)) {
	sc.mustBeInSetup()
	sc.table.onParsingError = fn
}

// OnUnknownEvent sets the hook run when no handler of the right kind is
// registered for an event.
func (sc *Scope) OnUnknownEvent(fn func(s *Session, event string)) {
	sc.mustBeInSetup()
	sc.table.onUnknownEvent = fn
}

// On registers a callback for event. Callbacks are run for envelopes
// without data. A later registration for the same event, of either kind,
// replaces this one.
func (sc *Scope) On(event string, fn func(*Session)) {
	sc.mustBeInSetup()
	sc.table.events[event] = handler{kind: kindCallback, callback: fn}
}

// On registers a function for event on sc. Functions are run for
// envelopes with data, which is decoded into T first. A later
// registration for the same event, of either kind, replaces this one.
//
//	hypercube.On(sc, "echo", func(s *hypercube.Session, msg string) {
//	    s.Send("ECHO " + msg)
//	})
func On[T any](sc *Scope, event string, fn func(*Session, T)) {
	sc.mustBeInSetup()
	sc.table.events[event] = handler{
		kind: kindFunction,
		bind: func(raw json.RawMessage) (func(*Session), error) {
			v, err := protocol.DecodeData[T](raw)
			if err != nil {
				return nil, err
			}
			return func(s *Session) { fn(s, v) }, nil
		},
	}
}
