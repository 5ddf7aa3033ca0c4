package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
)

// Envelope is a decoded {event, data} message.
type Envelope struct {
	// Event is the event name. It may be empty.
	Event string

	// Data is the raw payload. It is nil when the data field was absent or
	// an explicit null.
	Data json.RawMessage
}

// HasData reports whether the envelope carries a payload, which makes it a
// function call rather than a callback.
func (e Envelope) HasData() bool {
	return len(e.Data) > 0
}

// Validator is implemented by payload types that reject decoded values.
// DecodeData calls Validate after a successful unmarshal.
type Validator interface {
	Validate() error
}

// wireEnvelope is the encoded shape of an envelope. Field order fixes the
// output order: event first, then data.
type wireEnvelope struct {
	Event *string         `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var jsonNull = []byte("null")

var errMissingEvent = errors.New(`missing "event" field`)

// Encode returns the canonical envelope text for event and data.
// A nil data is omitted from the output.
func Encode(event string, data any) (string, error) {
	env := wireEnvelope{Event: &event}
	if data != nil {
		raw, err := marshal(data)
		if err != nil {
			return "", err
		}
		env.Data = raw
	}
	raw, err := marshal(env)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// MustEncode is like Encode but panics on error. It is intended for
// constant payloads in tests and examples.
func MustEncode(event string, data any) string {
	s, err := Encode(event, data)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses envelope text. Field names match exactly: "event" must be
// present and a string, and only "data" is taken as the payload.
func Decode(text []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(text, &fields); err != nil {
		return Envelope{}, malformed(err)
	}

	rawEvent, ok := fields["event"]
	if !ok || bytes.Equal(rawEvent, jsonNull) {
		return Envelope{}, malformed(errMissingEvent)
	}

	var out Envelope
	if err := json.Unmarshal(rawEvent, &out.Event); err != nil {
		return Envelope{}, malformed(err)
	}
	if data := fields["data"]; len(data) > 0 && !bytes.Equal(data, jsonNull) {
		out.Data = data
	}
	return out, nil
}

// DecodeData decodes an envelope payload into a value of type T.
//
// A null payload is accepted only when T can hold nil (pointer, map, slice
// or interface).
func DecodeData[T any](raw json.RawMessage) (T, error) {
	var v T
	typ := reflect.TypeFor[T]()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
		if !nillable(typ) {
			return v, &DecodeError{Kind: ErrPayloadDecode, Type: typ.String(), Err: errors.New("null payload")}
		}
		return v, nil
	}

	if err := json.Unmarshal(trimmed, &v); err != nil {
		return v, &DecodeError{Kind: ErrPayloadDecode, Type: typ.String(), Err: err}
	}

	if val, ok := any(v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return v, &DecodeError{Kind: ErrPayloadDecode, Type: typ.String(), Err: err}
		}
	} else if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return v, &DecodeError{Kind: ErrPayloadDecode, Type: typ.String(), Err: err}
		}
	}
	return v, nil
}

func nillable(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return true
	default:
		return false
	}
}

// marshal is json.Marshal without HTML escaping and without the trailing
// newline json.Encoder appends.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
