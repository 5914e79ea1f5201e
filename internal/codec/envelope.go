// Package codec serializes and deserializes the channel multiplexer's
// wire envelope and the domain records carried inside it (state
// vectors, history rows, control messages).
// Grounded on original_source/src/tangram/channels.py (ClientMessage)
// and packages/tangram_history/src/tangram_history/cli.py
// (ControlMessage/ControlResponse tagged unions).
package codec

import (
	"encoding/json"
	"fmt"
)

// Reserved event names recognised by the channel multiplexer.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventHeartbeat = "heartbeat"
	EventReply     = "phx_reply"

	// EventNewData is the event name synthesised for envelopes
	// delivered from a direct bus publish on a joined topic, as
	// opposed to one a client sent.
	EventNewData = "new-data"

	// TopicHeartbeat is the reserved topic heartbeats are sent on.
	TopicHeartbeat = "phoenix"
)

// ReplyStatus is the `status` field of a phx_reply payload.
type ReplyStatus string

const (
	StatusOK    ReplyStatus = "ok"
	StatusError ReplyStatus = "error"
)

// Envelope is the wire 5-tuple `[join_ref, ref, topic, event,
// payload]`. join_ref and ref are caller-assigned
// correlation tokens and may be absent (null on the wire).
type Envelope struct {
	JoinRef *string
	Ref     *string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// ReplyPayload is the payload shape of a phx_reply envelope.
type ReplyPayload struct {
	Status   ReplyStatus    `json:"status"`
	Response map[string]any `json:"response"`
}

// DecodeEnvelope parses a raw inbound frame. The multiplexer rejects
// and closes the session on any parse error or length mismatch —
// callers should treat any returned error that way.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(tuple) != 5 {
		return Envelope{}, fmt.Errorf("decode envelope: want 5 elements, got %d", len(tuple))
	}

	e := Envelope{Payload: tuple[4]}

	if err := json.Unmarshal(tuple[2], &e.Topic); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope topic: %w", err)
	}
	if err := json.Unmarshal(tuple[3], &e.Event); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope event: %w", err)
	}
	if joinRef, err := decodeNullableString(tuple[0]); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope join_ref: %w", err)
	} else {
		e.JoinRef = joinRef
	}
	if ref, err := decodeNullableString(tuple[1]); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope ref: %w", err)
	} else {
		e.Ref = ref
	}

	return e, nil
}

// decodeNullableString decodes join_ref/ref, which callers may send as
// either a JSON string or a JSON number; both are normalised to their
// string form.
func decodeNullableString(raw json.RawMessage) (*string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	str := n.String()
	return &str, nil
}

// EncodeEnvelope renders e back into the wire 5-tuple.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	tuple := [5]any{e.JoinRef, e.Ref, e.Topic, e.Event, payload}
	out, err := json.Marshal(tuple)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return out, nil
}

// Reply builds a phx_reply envelope answering e, carrying the same
// join_ref/ref.
func Reply(e Envelope, status ReplyStatus, response map[string]any) Envelope {
	if response == nil {
		response = map[string]any{}
	}
	payload, _ := json.Marshal(ReplyPayload{Status: status, Response: response})
	return Envelope{
		JoinRef: e.JoinRef,
		Ref:     e.Ref,
		Topic:   e.Topic,
		Event:   EventReply,
		Payload: payload,
	}
}

// IsHeartbeat reports whether e is a heartbeat frame.
func (e Envelope) IsHeartbeat() bool {
	return e.Event == EventHeartbeat && e.Topic == TopicHeartbeat
}

// IsJoin reports whether e is a join request.
func (e Envelope) IsJoin() bool {
	return e.Event == EventJoin
}

// IsLeave reports whether e is a leave request.
func (e Envelope) IsLeave() bool {
	return e.Event == EventLeave
}

// HasRef reports whether the envelope carries a non-null ref and
// therefore requires a reply.
func (e Envelope) HasRef() bool {
	return e.Ref != nil
}
