// Package protocol implements the Hypercube envelope codec.
//
// Every text frame exchanged over a Hypercube websocket carries a single
// JSON envelope with two fields:
//
//	{"event":"<name>","data":<json value>}
//
// The event name is required and may be any string, including the empty
// string. The data field is optional and its presence is the only thing
// that distinguishes the two dispatch paths on the server:
//
//   - data present: the event is a function call, and data is decoded into
//     the shape the function handler declared.
//   - data absent (or null): the event is a callback with no payload.
//
// # Encoding
//
// Encode writes the event field first and omits data entirely when no
// value is supplied:
//
//	Encode("ping", nil)      // {"event":"ping"}
//	Encode("message", "hi")  // {"event":"message","data":"hi"}
//
// An explicit JSON null can be sent by passing json.RawMessage("null").
// HTML characters are not escaped.
//
// # Decoding
//
// Decode either returns a usable Envelope or fails with an error matching
// ErrMalformedEnvelope; there is no partial success. DecodeData decodes an
// envelope's payload into a typed value and reports failures as
// ErrPayloadDecode. Types implementing Validator can reject structurally
// valid values after decoding.
package protocol
