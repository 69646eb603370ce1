// Package registry tracks every live transport connection and its
// authentication state. All mutation of connection records is funneled
// through the Registry so the core invariants hold without synchronization
// leaking into other components: exactly one record per live connection,
// authenticated implies a bound session and serializer, and a record is
// removed the instant its connection closes. Other components only ever see
// read-only snapshots.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/rjroy/adventure-engine/metrics"
	"github.com/rjroy/adventure-engine/session"
	"github.com/rjroy/adventure-engine/wire"
)

// ErrCapacity is returned by Register when the registry is at its
// configured maximum. The caller must reject the connection with a
// retryable close before any authentication is attempted.
var ErrCapacity = errors.New("registry: connection capacity exceeded")

// ErrNotFound is returned when no record exists for a connection id.
var ErrNotFound = errors.New("registry: connection not found")

// ConnID identifies one live connection.
type ConnID uint64

// Link is the transport-side handle the registry keeps per connection. The
// registry never writes through it itself; it hands it out in snapshots so
// the heartbeat sweep and the drain controller can notify and close.
type Link interface {
	// Send queues a message for the connection. Non-blocking; an error
	// means the connection is saturated or gone.
	Send(msg wire.Message) error
	// Close closes the connection with a semantic close code.
	Close(code wire.CloseCode, reason string)
}

// record is the mutable per-connection state, owned exclusively by the
// registry.
type record struct {
	id            ConnID
	link          Link
	sessionID     string
	authenticated bool
	lastHeartbeat time.Time
	serializer    *session.Serializer
}

// Snapshot is a read-only view of a connection record, valid at the moment
// it was taken. Callers must re-lookup after any suspension point instead of
// caching a snapshot.
type Snapshot struct {
	ID            ConnID
	Link          Link
	SessionID     string
	Authenticated bool
	LastHeartbeat time.Time
	Serializer    *session.Serializer
}

// Registry is the owned, capacity-bounded connection table.
type Registry struct {
	mu     sync.RWMutex
	conns  map[ConnID]*record
	nextID ConnID
	max    int
}

// New returns a registry bounded to max live connections.
func New(max int) *Registry {
	return &Registry{
		conns: make(map[ConnID]*record),
		max:   max,
	}
}

// Register creates a pending record for a newly accepted connection. At
// capacity it fails with ErrCapacity and creates nothing.
func (r *Registry) Register(link Link) (ConnID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= r.max {
		metrics.IncrCounterWithDim("net", "register_rejected_total", metrics.Dimension{"reason": "capacity"})
		return 0, ErrCapacity
	}

	r.nextID++
	id := r.nextID
	r.conns[id] = &record{
		id:            id,
		link:          link,
		lastHeartbeat: time.Now(),
	}
	metrics.IncrCounter("net", "connection_open_total")
	metrics.UpdateGauge("net", "current_connections", float64(len(r.conns)))
	return id, nil
}

// Lookup returns a snapshot of the record for id.
func (r *Registry) Lookup(id ConnID) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.conns[id]
	if !ok {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// Bind upgrades a pending record to authenticated, attaching the session
// and its serializer. If another live connection is already bound to the
// same session, that connection's snapshot is returned so the caller can
// close it; a session is served by at most one connection at a time.
func (r *Registry) Bind(id ConnID, sessionID string, ser *session.Serializer) (prev *Snapshot, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[id]
	if !ok {
		return nil, ErrNotFound
	}

	for _, other := range r.conns {
		if other.id != id && other.authenticated && other.sessionID == sessionID {
			snap := other.snapshot()
			prev = &snap
			break
		}
	}

	rec.sessionID = sessionID
	rec.serializer = ser
	rec.authenticated = true
	metrics.IncrCounter("net", "connection_authenticated_total")
	return prev, nil
}

// Heartbeat refreshes the liveness timestamp for id.
func (r *Registry) Heartbeat(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.conns[id]
	if !ok {
		return false
	}
	rec.lastHeartbeat = time.Now()
	return true
}

// Remove deletes the record for id and returns its serializer, if any, so
// the caller can shut it down. Removing an unknown id is a no-op.
func (r *Registry) Remove(id ConnID) *session.Serializer {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)
	metrics.IncrCounter("net", "connection_close_total")
	metrics.UpdateGauge("net", "current_connections", float64(len(r.conns)))
	return rec.serializer
}

// ForEach calls fn with a snapshot of every live connection. Snapshots are
// taken under the lock; fn runs outside it, so fn may call back into the
// registry.
func (r *Registry) ForEach(fn func(Snapshot)) {
	r.mu.RLock()
	snaps := make([]Snapshot, 0, len(r.conns))
	for _, rec := range r.conns {
		snaps = append(snaps, rec.snapshot())
	}
	r.mu.RUnlock()

	for _, s := range snaps {
		fn(s)
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (rec *record) snapshot() Snapshot {
	return Snapshot{
		ID:            rec.id,
		Link:          rec.link,
		SessionID:     rec.sessionID,
		Authenticated: rec.authenticated,
		LastHeartbeat: rec.lastHeartbeat,
		Serializer:    rec.serializer,
	}
}
