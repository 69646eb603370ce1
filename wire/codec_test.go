package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidMessages(t *testing.T) {
	c := NewCodec(0)

	tests := []struct {
		name string
		raw  string
		want Type
	}{
		{"authenticate", `{"type":"authenticate","session_id":"s1","token":"secret"}`, TypeAuthenticate},
		{"player_input", `{"type":"player_input","text":"look around"}`, TypePlayerInput},
		{"ping", `{"type":"ping"}`, TypePing},
		{"start_adventure", `{"type":"start_adventure"}`, TypeStartAdventure},
		{"authenticated", `{"type":"authenticated","session_id":"s1"}`, TypeAuthenticated},
		{"error", `{"type":"error","code":"auth_failed","message":"bad token","retryable":false}`, TypeError},
		{"turn_start", `{"type":"turn_start","turn_id":1}`, TypeTurnStart},
		{"turn_chunk", `{"type":"turn_chunk","turn_id":1,"text":"You awaken."}`, TypeTurnChunk},
		{"turn_end", `{"type":"turn_end","turn_id":1}`, TypeTurnEnd},
		{"pong", `{"type":"pong"}`, TypePong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := c.Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Kind())
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	c := NewCodec(32)

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `not json at all`},
		{"no type", `{"text":"hello"}`},
		{"unknown type", `{"type":"teleport"}`},
		{"unknown field", `{"type":"ping","extra":true}`},
		{"mistyped field", `{"type":"turn_start","turn_id":"one"}`},
		{"missing session id", `{"type":"authenticate","token":"secret"}`},
		{"missing token", `{"type":"authenticate","session_id":"s1"}`},
		{"empty input", `{"type":"player_input","text":""}`},
		{"oversized input", `{"type":"player_input","text":"` + strings.Repeat("x", 33) + `"}`},
		{"error without code", `{"type":"error","message":"boom"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := c.Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, msg)

			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCodec(0)

	raw, err := c.Encode(NewTurnChunk(7, "The door creaks open."))
	require.NoError(t, err)

	msg, err := c.Decode(raw)
	require.NoError(t, err)

	chunk, ok := msg.(*TurnChunk)
	require.True(t, ok)
	assert.Equal(t, uint64(7), chunk.TurnID)
	assert.Equal(t, "The door creaks open.", chunk.Text)
}

func TestEncodeRejectsInvalidMessage(t *testing.T) {
	c := NewCodec(0)

	_, err := c.Encode(&Authenticated{Type: TypeAuthenticated})
	require.Error(t, err)

	_, err = c.Encode(nil)
	require.Error(t, err)
}

func TestCloseCodeSemantics(t *testing.T) {
	assert.True(t, CloseCapacity.Retryable())
	assert.True(t, CloseShutdown.Retryable())
	assert.True(t, CloseHeartbeatTimeout.Retryable())
	assert.False(t, CloseAuthFailed.Retryable())
	assert.False(t, CloseInitFailed.Retryable())
	assert.False(t, CloseNormal.Retryable())

	assert.Equal(t, "shutdown", CloseShutdown.Name())
	assert.Equal(t, "heartbeat-timeout", CloseHeartbeatTimeout.Name())
	assert.Equal(t, "capacity-exceeded", CloseCapacity.Name())
}
