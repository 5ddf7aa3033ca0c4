package hypercube

import (
	"errors"
	"fmt"
)

// Sentinel errors reported to dispatch middleware and returned by the
// lower-level session APIs.
var (
	// ErrUnknownEvent is reported when no handler of the matching kind is
	// registered for an event.
	ErrUnknownEvent = errors.New("hypercube: unknown event")

	// ErrSessionClosed is returned when writing to a session whose outbound
	// side has already been shut down.
	ErrSessionClosed = errors.New("hypercube: session closed")

	// ErrHandlerPanic is reported when a handler or hook panicked.
	ErrHandlerPanic = errors.New("hypercube: handler panic")

	// ErrScopeClosed is returned by Shutdown when called twice.
	ErrScopeClosed = errors.New("hypercube: scope closed")
)

// SessionError wraps an error with session context.
type SessionError struct {
	SessionID string
	Op        string // Operation that failed
	Err       error  // Underlying error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("hypercube: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("hypercube: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// EventError reports a routing failure for a named event.
type EventError struct {
	Event string
	Err   error
}

// Error returns the error message.
func (e *EventError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Event)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *EventError) Unwrap() error {
	return e.Err
}
