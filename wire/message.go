// Package wire defines the tagged-union message protocol exchanged between
// a client and the adventure server, together with a strict codec that
// validates every message at the boundary. Internal code only ever sees the
// validated, typed variants; raw payloads never cross into stateful
// components.
package wire

import (
	"errors"
	"fmt"
)

// Type discriminates the wire message variants.
type Type string

// Client-to-server message types.
const (
	TypeAuthenticate   Type = "authenticate"
	TypePlayerInput    Type = "player_input"
	TypePing           Type = "ping"
	TypeStartAdventure Type = "start_adventure"
)

// Server-to-client message types.
const (
	TypeAuthenticated Type = "authenticated"
	TypeError         Type = "error"
	TypeTurnStart     Type = "turn_start"
	TypeTurnChunk     Type = "turn_chunk"
	TypeTurnEnd       Type = "turn_end"
	TypePong          Type = "pong"
)

// Message is implemented by every wire variant. A decoded Message has
// already passed schema validation.
type Message interface {
	// Kind returns the discriminator for this variant.
	Kind() Type
	// validate checks the variant's required fields. It is called by the
	// codec after decoding and by Encode before marshalling.
	validate() error
}

// Authenticate carries the session credential. It must be the first
// application message on a new connection; the secret token is never placed
// in the upgrade URL.
type Authenticate struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// NewAuthenticate builds an authenticate message for the given credential.
func NewAuthenticate(sessionID, token string) *Authenticate {
	return &Authenticate{Type: TypeAuthenticate, SessionID: sessionID, Token: token}
}

func (m *Authenticate) Kind() Type { return TypeAuthenticate }

func (m *Authenticate) validate() error {
	if m.SessionID == "" {
		return errors.New("authenticate: session_id is required")
	}
	if m.Token == "" {
		return errors.New("authenticate: token is required")
	}
	return nil
}

// PlayerInput carries one unit of narrative input. The codec bounds its
// length before the input can reach any queue.
type PlayerInput struct {
	Type Type   `json:"type"`
	Text string `json:"text"`
}

// NewPlayerInput builds a player_input message.
func NewPlayerInput(text string) *PlayerInput {
	return &PlayerInput{Type: TypePlayerInput, Text: text}
}

func (m *PlayerInput) Kind() Type { return TypePlayerInput }

func (m *PlayerInput) validate() error {
	if m.Text == "" {
		return errors.New("player_input: text is required")
	}
	return nil
}

// Ping is the client-side keep-alive. Clients send it on a fixed interval
// independent of other traffic so a session blocked on a long turn does not
// appear stale.
type Ping struct {
	Type Type `json:"type"`
}

// NewPing builds a ping message.
func NewPing() *Ping { return &Ping{Type: TypePing} }

func (m *Ping) Kind() Type { return TypePing }

func (m *Ping) validate() error { return nil }

// StartAdventure is an idempotent marker; it is a no-op once the connection
// is authenticated.
type StartAdventure struct {
	Type Type `json:"type"`
}

// NewStartAdventure builds a start_adventure message.
func NewStartAdventure() *StartAdventure { return &StartAdventure{Type: TypeStartAdventure} }

func (m *StartAdventure) Kind() Type { return TypeStartAdventure }

func (m *StartAdventure) validate() error { return nil }

// Authenticated acknowledges a successful handshake and echoes the bound
// session id.
type Authenticated struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
}

// NewAuthenticated builds an authenticated acknowledgement.
func NewAuthenticated(sessionID string) *Authenticated {
	return &Authenticated{Type: TypeAuthenticated, SessionID: sessionID}
}

func (m *Authenticated) Kind() Type { return TypeAuthenticated }

func (m *Authenticated) validate() error {
	if m.SessionID == "" {
		return errors.New("authenticated: session_id is required")
	}
	return nil
}

// Error reports a rejection or failure to the client. Code is stable and
// machine-readable; Message is human-readable. Retryable tells the client
// whether retrying the same operation can succeed.
type Error struct {
	Type      Type      `json:"type"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// NewError builds an error event.
func NewError(code ErrorCode, msg string, retryable bool) *Error {
	return &Error{Type: TypeError, Code: code, Message: msg, Retryable: retryable}
}

func (m *Error) Kind() Type { return TypeError }

func (m *Error) validate() error {
	if m.Code == "" {
		return errors.New("error: code is required")
	}
	if m.Message == "" {
		return errors.New("error: message is required")
	}
	return nil
}

// TurnStart opens a turn's output stream.
type TurnStart struct {
	Type   Type   `json:"type"`
	TurnID uint64 `json:"turn_id"`
}

// NewTurnStart builds a turn_start event.
func NewTurnStart(turnID uint64) *TurnStart {
	return &TurnStart{Type: TypeTurnStart, TurnID: turnID}
}

func (m *TurnStart) Kind() Type { return TypeTurnStart }

func (m *TurnStart) validate() error {
	if m.TurnID == 0 {
		return errors.New("turn_start: turn_id is required")
	}
	return nil
}

// TurnChunk carries one increment of a turn's narrative output.
type TurnChunk struct {
	Type   Type   `json:"type"`
	TurnID uint64 `json:"turn_id"`
	Text   string `json:"text"`
}

// NewTurnChunk builds a turn_chunk event.
func NewTurnChunk(turnID uint64, text string) *TurnChunk {
	return &TurnChunk{Type: TypeTurnChunk, TurnID: turnID, Text: text}
}

func (m *TurnChunk) Kind() Type { return TypeTurnChunk }

func (m *TurnChunk) validate() error {
	if m.TurnID == 0 {
		return errors.New("turn_chunk: turn_id is required")
	}
	if m.Text == "" {
		return errors.New("turn_chunk: text is required")
	}
	return nil
}

// TurnEnd closes a turn's output stream.
type TurnEnd struct {
	Type   Type   `json:"type"`
	TurnID uint64 `json:"turn_id"`
}

// NewTurnEnd builds a turn_end event.
func NewTurnEnd(turnID uint64) *TurnEnd {
	return &TurnEnd{Type: TypeTurnEnd, TurnID: turnID}
}

func (m *TurnEnd) Kind() Type { return TypeTurnEnd }

func (m *TurnEnd) validate() error {
	if m.TurnID == 0 {
		return errors.New("turn_end: turn_id is required")
	}
	return nil
}

// Pong answers a ping.
type Pong struct {
	Type Type `json:"type"`
}

// NewPong builds a pong message.
func NewPong() *Pong { return &Pong{Type: TypePong} }

func (m *Pong) Kind() Type { return TypePong }

func (m *Pong) validate() error { return nil }

// SchemaError reports a message that failed boundary validation. A message
// rejected with a SchemaError has not touched any stateful component.
type SchemaError struct {
	Type   Type // the declared type tag, if one could be read
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("wire: malformed message: %s", e.Reason)
	}
	return fmt.Sprintf("wire: malformed %q message: %s", e.Type, e.Reason)
}

// schemaErrf builds a SchemaError with a formatted reason.
func schemaErrf(t Type, format string, args ...any) *SchemaError {
	return &SchemaError{Type: t, Reason: fmt.Sprintf(format, args...)}
}
