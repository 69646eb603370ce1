package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjroy/adventure-engine/wire"
)

// fakeLink records close calls.
type fakeLink struct {
	mu     sync.Mutex
	closed []wire.CloseCode
}

func (l *fakeLink) Send(msg wire.Message) error { return nil }

func (l *fakeLink) Close(code wire.CloseCode, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = append(l.closed, code)
}

func TestRegisterLookupRemove(t *testing.T) {
	r := New(4)
	link := &fakeLink{}

	id, err := r.Register(link)
	require.NoError(t, err)

	snap, ok := r.Lookup(id)
	require.True(t, ok)
	assert.False(t, snap.Authenticated)
	assert.Empty(t, snap.SessionID)
	assert.Nil(t, snap.Serializer)
	assert.False(t, snap.LastHeartbeat.IsZero())

	assert.Nil(t, r.Remove(id))
	_, ok = r.Lookup(id)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegisterAtCapacityCreatesNothing(t *testing.T) {
	r := New(2)
	_, err := r.Register(&fakeLink{})
	require.NoError(t, err)
	_, err = r.Register(&fakeLink{})
	require.NoError(t, err)

	id, err := r.Register(&fakeLink{})
	require.ErrorIs(t, err, ErrCapacity)
	assert.Zero(t, id)
	assert.Equal(t, 2, r.Len())

	// Freeing a slot makes registration succeed again.
	r.ForEach(func(s Snapshot) { r.Remove(s.ID) })
	_, err = r.Register(&fakeLink{})
	require.NoError(t, err)
}

func TestBindMarksAuthenticated(t *testing.T) {
	r := New(4)
	id, err := r.Register(&fakeLink{})
	require.NoError(t, err)

	prev, err := r.Bind(id, "s1", nil)
	require.NoError(t, err)
	assert.Nil(t, prev)

	snap, ok := r.Lookup(id)
	require.True(t, ok)
	assert.True(t, snap.Authenticated)
	assert.Equal(t, "s1", snap.SessionID)
}

func TestBindReportsSupersededConnection(t *testing.T) {
	r := New(4)
	first, err := r.Register(&fakeLink{})
	require.NoError(t, err)
	_, err = r.Bind(first, "s1", nil)
	require.NoError(t, err)

	second, err := r.Register(&fakeLink{})
	require.NoError(t, err)
	prev, err := r.Bind(second, "s1", nil)
	require.NoError(t, err)

	require.NotNil(t, prev)
	assert.Equal(t, first, prev.ID)
}

func TestBindUnknownConnection(t *testing.T) {
	r := New(4)
	_, err := r.Bind(99, "s1", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHeartbeatRefreshesTimestamp(t *testing.T) {
	r := New(4)
	id, err := r.Register(&fakeLink{})
	require.NoError(t, err)

	before, _ := r.Lookup(id)
	require.True(t, r.Heartbeat(id))
	after, _ := r.Lookup(id)
	assert.False(t, after.LastHeartbeat.Before(before.LastHeartbeat))

	assert.False(t, r.Heartbeat(999))
}

func TestForEachMaySafelyMutate(t *testing.T) {
	r := New(8)
	for i := 0; i < 5; i++ {
		_, err := r.Register(&fakeLink{})
		require.NoError(t, err)
	}

	seen := 0
	r.ForEach(func(s Snapshot) {
		seen++
		r.Remove(s.ID)
	})
	assert.Equal(t, 5, seen)
	assert.Equal(t, 0, r.Len())
}
