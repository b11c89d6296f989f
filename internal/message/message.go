// Package message defines the wire-level data model shared by every
// harness: the message envelope, local event log entries, and the JSON
// encoding convention — every node message is a (kind, payload) pair where
// payload is a JSON object with canonical field ordering.
package message

import (
	"bytes"
	"encoding/json"
)

// Envelope is the immutable (kind, payload) pair nodes exchange. Identity
// for delivery bookkeeping is (Kind, Payload); two envelopes with the same
// kind and payload bytes are indistinguishable duplicates.
type Envelope struct {
	Kind    string
	Payload string // canonical JSON object, or empty
}

// New builds an Envelope by marshaling v (a struct with exported fields) to
// canonical JSON. Field order in the payload follows v's declared field
// order: struct field order is the canonical order, never a sorted-map
// reordering.
func New(kind string, v any) (Envelope, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, Payload: string(buf)}, nil
}

// MustNew is New but panics on marshal failure; used in scenario
// construction where the payload shape is controlled by the caller and a
// marshal failure indicates a programmer error, not a runtime condition.
func MustNew(kind string, v any) Envelope {
	e, err := New(kind, v)
	if err != nil {
		panic("message.MustNew: " + err.Error())
	}
	return e
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	if e.Payload == "" {
		return nil
	}
	return json.Unmarshal([]byte(e.Payload), v)
}

// Equal reports whether two envelopes have the same kind and byte-identical
// payload. Canonical-ordering means two envelopes built from
// semantically-equal structs via New are always Equal.
func (e Envelope) Equal(other Envelope) bool {
	return e.Kind == other.Kind && e.Payload == other.Payload
}

// Canonicalize re-serializes a raw JSON payload with map keys sorted and no
// insignificant whitespace, for payloads the harness receives from a foreign
// node implementation rather than building itself (encoding/json already
// sorts map[string]any keys on Marshal; this just guarantees a byte-for-byte
// stable round trip for comparison and logging).
func Canonicalize(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// EventKind distinguishes local input delivered to a node's handler from
// local output the node emitted.
type EventKind int

const (
	// LocalInput is a message injected into a node from outside the system
	// via engine.SendLocal.
	LocalInput EventKind = iota
	// LocalOutput is a message a node handler emitted as a local output.
	LocalOutput
)

func (k EventKind) String() string {
	switch k {
	case LocalInput:
		return "LocalInput"
	case LocalOutput:
		return "LocalOutput"
	default:
		return "Unknown"
	}
}

// LocalEvent is one entry in a node's append-only local event log.
type LocalEvent struct {
	Kind    EventKind
	Time    float64
	Message Envelope
}
