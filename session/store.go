package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by a Store when no session exists for the id.
var ErrNotFound = errors.New("session: not found")

// TurnRecord is one completed request/response cycle in a session's history.
type TurnRecord struct {
	ID          uint64    `json:"id"`
	Input       string    `json:"input"`
	Output      string    `json:"output"`
	CompletedAt time.Time `json:"completed_at"`
}

// State is the durable narrative context for one session.
type State struct {
	SessionID string       `json:"session_id"`
	Token     string       `json:"token"`
	Turns     []TurnRecord `json:"turns"`
}

// Clone returns a deep copy so the caller can mutate freely.
func (s *State) Clone() *State {
	cp := &State{SessionID: s.SessionID, Token: s.Token}
	cp.Turns = make([]TurnRecord, len(s.Turns))
	copy(cp.Turns, s.Turns)
	return cp
}

// Store is the durable session store. Load and Save are I/O-bound and must
// be called with a context; implementations validate nothing beyond
// existence — credential checks belong to the handshake.
type Store interface {
	// Load returns the state for sessionID, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*State, error)
	// Save persists the state, replacing any previous version.
	Save(ctx context.Context, state *State) error
}

// MemStore is an in-memory Store for development and tests.
type MemStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{states: make(map[string]*State)}
}

// Seed registers a fresh session for the credential. It overwrites any
// existing state for the same id.
func (m *MemStore) Seed(cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[cred.SessionID] = &State{SessionID: cred.SessionID, Token: cred.Token}
}

// Load implements Store.
func (m *MemStore) Load(ctx context.Context, sessionID string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// Save implements Store.
func (m *MemStore) Save(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.SessionID] = state.Clone()
	return nil
}
