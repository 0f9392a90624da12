// Package protocol implements the unix-socket wire format shared by the
// daemon, CLI, and SDK: a 4-byte big-endian length prefix followed by a
// msgpack-encoded payload, grounded on
// original_source/broker/daemon/src/broker_daemon/protocol.py.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrorResponse is the wire shape of brokererr.Error.Payload().
type ErrorResponse struct {
	Code       string         `msgpack:"code"`
	Message    string         `msgpack:"message"`
	Details    map[string]any `msgpack:"details"`
	Suggestion string         `msgpack:"suggestion,omitempty"`
}

// Request is a single command invocation from a connected client.
type Request struct {
	RequestID string         `msgpack:"request_id"`
	Command   string         `msgpack:"command"`
	Params    map[string]any `msgpack:"params"`
	Stream    bool           `msgpack:"stream"`
	Source    string         `msgpack:"source"`
}

// NewRequest builds a Request with a freshly generated RequestID and source "cli".
func NewRequest(command string, params map[string]any) *Request {
	if params == nil {
		params = map[string]any{}
	}
	return &Request{
		RequestID: uuid.NewString(),
		Command:   command,
		Params:    params,
		Source:    "cli",
	}
}

// Response answers exactly one Request by RequestID.
type Response struct {
	RequestID string         `msgpack:"request_id"`
	OK        bool           `msgpack:"ok"`
	Data      any            `msgpack:"data,omitempty"`
	Error     *ErrorResponse `msgpack:"error,omitempty"`
}

// EventEnvelope is a broadcast or stream push unsolicited by a specific
// request, except when it originates from a `stream: true` request, in
// which case RequestID correlates it back to the caller.
type EventEnvelope struct {
	RequestID *string        `msgpack:"request_id,omitempty"`
	Topic     string         `msgpack:"topic"`
	Data      map[string]any `msgpack:"data"`
}

// Encode msgpack-serializes v (a *Request, *Response, or *EventEnvelope).
func Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func DecodeRequest(payload []byte) (*Request, error) {
	var req Request
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return &req, nil
}

func DecodeResponse(payload []byte) (*Response, error) {
	var resp Response
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

func DecodeEvent(payload []byte) (*EventEnvelope, error) {
	var ev EventEnvelope
	if err := msgpack.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	return &ev, nil
}

// FramePayload prepends the 4-byte big-endian length prefix.
func FramePayload(payload []byte) []byte {
	framed := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(framed, uint32(len(payload)))
	copy(framed[4:], payload)
	return framed
}

// WriteFramed frames and writes v in a single call.
func WriteFramed(w io.Writer, v any) error {
	payload, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	_, err = w.Write(FramePayload(payload))
	return err
}

// MaxFrameSize bounds a single frame to guard against a malformed or
// malicious length prefix exhausting memory.
const MaxFrameSize = 64 * 1024 * 1024

// ReadFramed reads one length-prefixed payload from r.
func ReadFramed(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds maximum %d", size, MaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
