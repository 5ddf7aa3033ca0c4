package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEnvelope is returned when a frame is not valid JSON or does
	// not carry a string "event" field.
	ErrMalformedEnvelope = errors.New("protocol: malformed envelope")

	// ErrPayloadDecode is returned when an envelope's data cannot be decoded
	// into the shape a handler declared.
	ErrPayloadDecode = errors.New("protocol: payload decode failed")
)

// DecodeError carries the cause of a failed envelope or payload decode.
// It matches ErrMalformedEnvelope or ErrPayloadDecode with errors.Is,
// depending on Kind.
type DecodeError struct {
	Kind error  // ErrMalformedEnvelope or ErrPayloadDecode
	Type string // Target type name, payload decodes only
	Err  error  // Underlying error, may be nil
}

// Error returns the error message.
func (e *DecodeError) Error() string {
	switch {
	case e.Type != "" && e.Err != nil:
		return fmt.Sprintf("%v: into %s: %v", e.Kind, e.Type, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Is reports whether target is the error's kind.
func (e *DecodeError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func malformed(err error) error {
	return &DecodeError{Kind: ErrMalformedEnvelope, Err: err}
}
