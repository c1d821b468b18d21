// Package wire defines the fabric's msgpack codec: the Envelope carried
// on client TCP connections, broker frames, and a location gateway's
// PUSH/PULL/PUB sockets; the plain-value encoding (EncodeAny/DecodeBytes)
// used by the location registry's request/reply socket; and the
// length-prefixed framing used on client TCP connections.
package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the message shape carried on every wire in the fabric:
// a dotted handler path plus a keyword-argument payload.
type Envelope struct {
	Path   string         `msgpack:"path"`
	Kwargs map[string]any `msgpack:"kwargs"`
}

// Marshal encodes an Envelope to its on-wire msgpack representation.
func Marshal(env Envelope) ([]byte, error) {
	b, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a msgpack-encoded Envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	if env.Kwargs == nil {
		env.Kwargs = map[string]any{}
	}
	return env, nil
}

// EncodeAny msgpack-encodes an arbitrary value, for the small
// non-Envelope payloads exchanged by the location registry's
// request/reply and ingress sockets (bool replies, metadata maps).
func EncodeAny(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal value: %w", err)
	}
	return b, nil
}

// DecodeBytes msgpack-decodes raw bytes into dst, the counterpart to
// EncodeAny.
func DecodeBytes(b []byte, dst any) error {
	if err := msgpack.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("wire: decode value: %w", err)
	}
	return nil
}

// Decode re-decodes a loosely-typed kwargs value (as produced by
// Unmarshal) into a concrete Go struct or value, for handlers that want
// more than map[string]any access.
func Decode(v any, dst any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: re-encode kwargs field: %w", err)
	}
	if err := msgpack.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("wire: decode kwargs field: %w", err)
	}
	return nil
}

// New builds an Envelope for a dotted path with the given kwargs, the
// shape every Sender ends up constructing before a write.
func New(path string, kwargs map[string]any) Envelope {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return Envelope{Path: path, Kwargs: kwargs}
}
