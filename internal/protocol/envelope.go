// Package protocol defines the wire format for the chatwire protocol.
//
// Every frame on the wire is a 4-byte big-endian length header followed by
// exactly that many bytes of JSON encoding a single [Envelope]. The envelope
// is a closed tagged union: unknown kinds and unknown fields are rejected,
// and a malformed frame desynchronizes the stream, so callers must close the
// connection on any [DecodeError].
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Envelope kinds. The set is closed; decoding any other value fails.
const (
	KindPublic      = "public"
	KindPrivate     = "private"
	KindSystem      = "system"
	KindNickRequest = "nick_request"
	KindNickAck     = "nick_ack"
	KindError       = "error"
)

// MaxPayload is the largest accepted frame payload. A length header
// announcing more than this is treated as a framing error.
const MaxPayload = 64 * 1024

// headerSize is the width of the length prefix.
const headerSize = 4

// Envelope is the single message exchanged between clients, the server,
// and the relay.
type Envelope struct {
	// Kind is the union tag, one of the Kind* constants.
	Kind string `json:"kind"`

	// Sender is the originating nickname. Empty for server-originated
	// system and error envelopes. For KindNickRequest it carries the
	// requested nickname.
	Sender string `json:"sender,omitempty"`

	// Recipient is the target nickname for KindPrivate. For KindNickAck
	// it carries the assigned nickname.
	Recipient string `json:"recipient,omitempty"`

	// Body is the message text. Never rewritten in transit.
	Body string `json:"body,omitempty"`

	// Timestamp is Unix milliseconds, assigned by the server on ingress.
	Timestamp int64 `json:"ts,omitempty"`
}

// DecodeError reports a malformed frame. The stream is unrecoverable after
// one: the caller must close the connection.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

func validKind(kind string) bool {
	switch kind {
	case KindPublic, KindPrivate, KindSystem, KindNickRequest, KindNickAck, KindError:
		return true
	}
	return false
}

// Encode serializes an envelope into a complete frame (header + payload).
func Encode(env Envelope) ([]byte, error) {
	if !validKind(env.Kind) {
		return nil, fmt.Errorf("encode: unknown kind %q", env.Kind)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("encode: payload %d bytes exceeds limit %d", len(payload), MaxPayload)
	}
	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[headerSize:], payload)
	return frame, nil
}

// Decode parses a frame payload (excluding the length header) into an
// envelope. Unknown kinds and unknown fields are rejected.
func Decode(payload []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, &DecodeError{Reason: "invalid payload", Err: err}
	}
	if dec.More() {
		return Envelope{}, &DecodeError{Reason: "trailing data after payload"}
	}
	if !validKind(env.Kind) {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("unknown kind %q", env.Kind)}
	}
	return env, nil
}

// Write encodes env and writes the complete frame to w.
func Write(w io.Writer, env Envelope) error {
	frame, err := Encode(env)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Read reads exactly one frame from r and decodes it. A clean EOF before
// the first header byte is returned as [io.EOF]; a truncation anywhere else
// is a [DecodeError].
func Read(r io.Reader) (Envelope, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Envelope{}, io.EOF
		}
		return Envelope{}, &DecodeError{Reason: "truncated header", Err: err}
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return Envelope{}, &DecodeError{Reason: "zero-length frame"}
	}
	if size > MaxPayload {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("frame length %d exceeds limit %d", size, MaxPayload)}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, &DecodeError{Reason: "truncated payload", Err: err}
	}
	return Decode(payload)
}
