package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreLoadSave(t *testing.T) {
	store := NewMemStore()
	store.Seed(Credential{SessionID: "s1", Token: "tok"})

	state, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", state.SessionID)
	assert.Empty(t, state.Turns)

	state.Turns = append(state.Turns, TurnRecord{ID: 1, Input: "look", Output: "a door"})
	require.NoError(t, store.Save(context.Background(), state))

	// Mutating the caller's copy must not leak into the store.
	state.Turns[0].Output = "mutated"
	reloaded, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, reloaded.Turns, 1)
	assert.Equal(t, "a door", reloaded.Turns[0].Output)
}

func TestMemStoreMissingSession(t *testing.T) {
	store := NewMemStore()
	_, err := store.Load(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCredentialVerify(t *testing.T) {
	state := &State{SessionID: "s1", Token: "secret"}

	assert.True(t, Credential{SessionID: "s1", Token: "secret"}.Verify(state))
	assert.False(t, Credential{SessionID: "s1", Token: "wrong"}.Verify(state))
	assert.False(t, Credential{SessionID: "s2", Token: "secret"}.Verify(state))
	assert.False(t, Credential{SessionID: "s1", Token: "secret"}.Verify(nil))
}

func TestValidSessionID(t *testing.T) {
	assert.True(t, ValidSessionID("abc_DEF-123"))
	assert.False(t, ValidSessionID(""))
	assert.False(t, ValidSessionID("../etc/passwd"))
	assert.False(t, ValidSessionID("has space"))
	assert.False(t, ValidSessionID(string(make([]byte, 65))))
}
