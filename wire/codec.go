package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultMaxInputLen bounds player_input text when no explicit limit is
// configured.
const DefaultMaxInputLen = 4096

// Codec decodes and encodes wire messages. Decoding is strict: unknown type
// tags, unknown fields, missing required fields, and oversized input are all
// rejected with a SchemaError before the message can reach any stateful
// component. Encoding is pure.
type Codec struct {
	// MaxInputLen bounds the byte length of player_input text. Zero means
	// DefaultMaxInputLen.
	MaxInputLen int
}

// NewCodec returns a codec enforcing the given input length bound. A
// non-positive bound falls back to DefaultMaxInputLen.
func NewCodec(maxInputLen int) *Codec {
	if maxInputLen <= 0 {
		maxInputLen = DefaultMaxInputLen
	}
	return &Codec{MaxInputLen: maxInputLen}
}

// Decode parses and validates a raw frame into a typed Message. Any failure
// is a *SchemaError.
func (c *Codec) Decode(raw []byte) (Message, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, schemaErrf("", "not a JSON object: %v", err)
	}
	if envelope.Type == "" {
		return nil, schemaErrf("", "missing type field")
	}

	var msg Message
	switch envelope.Type {
	case TypeAuthenticate:
		msg = &Authenticate{}
	case TypePlayerInput:
		msg = &PlayerInput{}
	case TypePing:
		msg = &Ping{}
	case TypeStartAdventure:
		msg = &StartAdventure{}
	case TypeAuthenticated:
		msg = &Authenticated{}
	case TypeError:
		msg = &Error{}
	case TypeTurnStart:
		msg = &TurnStart{}
	case TypeTurnChunk:
		msg = &TurnChunk{}
	case TypeTurnEnd:
		msg = &TurnEnd{}
	case TypePong:
		msg = &Pong{}
	default:
		return nil, schemaErrf(envelope.Type, "unknown message type")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return nil, schemaErrf(envelope.Type, "schema violation: %v", err)
	}
	if err := msg.validate(); err != nil {
		return nil, schemaErrf(envelope.Type, "%v", err)
	}

	if in, ok := msg.(*PlayerInput); ok {
		limit := c.MaxInputLen
		if limit <= 0 {
			limit = DefaultMaxInputLen
		}
		if len(in.Text) > limit {
			return nil, schemaErrf(TypePlayerInput, "text exceeds %d bytes", limit)
		}
	}

	return msg, nil
}

// Encode marshals a Message to its wire form. It validates first so a
// malformed message can never be emitted.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("wire: cannot encode nil message")
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("wire: refusing to encode: %w", err)
	}
	return json.Marshal(msg)
}
