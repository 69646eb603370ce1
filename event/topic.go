package event

// Lifecycle topics published by the server.
const (
	// TopicSessionBound fires when a connection completes authentication
	// and takes ownership of its session.
	TopicSessionBound = "session.bound"
	// TopicSessionClosed fires when an authenticated connection goes away,
	// whatever the reason.
	TopicSessionClosed = "session.closed"
)

// SessionBound is the payload for TopicSessionBound.
type SessionBound struct {
	SessionID string
	ConnID    uint64
}

// SessionClosed is the payload for TopicSessionClosed.
type SessionClosed struct {
	SessionID string
	ConnID    uint64
}
