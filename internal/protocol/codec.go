package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrUnknownCodec = errors.New("unknown codec")
)

// Subprotocol names offered on the signaling WebSocket. The first entry is
// the default when the client asks for none.
const (
	SubprotocolJSON    = "json"
	SubprotocolMsgpack = "msgpack"
)

var Subprotocols = []string{SubprotocolJSON, SubprotocolMsgpack}

// Codec turns messages into WebSocket frames and back.
type Codec interface {
	Name() string
	// Binary reports whether frames go out as binary rather than text.
	Binary() bool
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

// CodecFor resolves a negotiated subprotocol. Empty selects JSON.
func CodecFor(subprotocol string) (Codec, error) {
	switch subprotocol {
	case "", SubprotocolJSON:
		return JSON, nil
	case SubprotocolMsgpack:
		return Msgpack, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, subprotocol)
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

type jsonEnvelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return SubprotocolJSON }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Type(), err)
	}
	return json.Marshal(jsonEnvelope{Type: m.Type(), Payload: payload})
}

func (jsonCodec) Decode(data []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return decode(env.Type, json.Unmarshal, env.Payload)
}

type msgpackEnvelope struct {
	Type    Type               `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return SubprotocolMsgpack }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(m Message) ([]byte, error) {
	payload, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Type(), err)
	}
	return msgpack.Marshal(msgpackEnvelope{Type: m.Type(), Payload: payload})
}

func (msgpackCodec) Decode(data []byte) (Message, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return decode(env.Type, msgpack.Unmarshal, env.Payload)
}

func decode(t Type, unmarshal func([]byte, any) error, raw []byte) (Message, error) {
	fn, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	m, err := fn(unmarshal, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return m, nil
}
