package wire

import "github.com/gorilla/websocket"

// ErrorCode is the stable, machine-readable code carried on error events.
type ErrorCode string

const (
	// CodeProtocol marks a malformed or unvalidatable message.
	CodeProtocol ErrorCode = "protocol_error"
	// CodeAuthFailed marks a bad, missing, or rejected credential.
	CodeAuthFailed ErrorCode = "auth_failed"
	// CodeNotAuthenticated marks input received before a successful handshake.
	CodeNotAuthenticated ErrorCode = "not_authenticated"
	// CodeCapacity marks a registry-full rejection. Retryable.
	CodeCapacity ErrorCode = "capacity_exceeded"
	// CodeQueueFull marks input rejected because the session's turn queue is
	// at its depth cap. Retryable.
	CodeQueueFull ErrorCode = "queue_full"
	// CodeRateLimited marks input rejected by the per-connection rate
	// limiter. Retryable.
	CodeRateLimited ErrorCode = "rate_limited"
	// CodeTurnFailed marks a turn-generation or persistence failure.
	CodeTurnFailed ErrorCode = "turn_failed"
	// CodeShutdown marks a planned server shutdown notice.
	CodeShutdown ErrorCode = "server_shutdown"
)

// CloseCode is a semantic websocket close code. Values above 4000 are in the
// application-reserved range; clients dispatch on the code to decide
// whether, and how soon, to reconnect.
type CloseCode int

const (
	// CloseNormal is a client-initiated close; no reconnect expected.
	CloseNormal CloseCode = websocket.CloseNormalClosure
	// CloseAuthFailed rejects the connection's credential. Not retryable
	// without a fresh credential.
	CloseAuthFailed CloseCode = 4001
	// CloseCapacity rejects a connection because the registry is at its
	// configured maximum. Retryable after backing off.
	CloseCapacity CloseCode = 4002
	// CloseInitFailed reports a server-side failure while binding the
	// session. Not retryable.
	CloseInitFailed CloseCode = 4003
	// CloseShutdown announces planned maintenance; clients should reconnect
	// immediately once the server returns.
	CloseShutdown CloseCode = 4004
	// CloseHeartbeatTimeout evicts a connection that stopped sending pings.
	// Retryable.
	CloseHeartbeatTimeout CloseCode = 4005
)

// Name returns the semantic name for a close code.
func (c CloseCode) Name() string {
	switch c {
	case CloseNormal:
		return "normal"
	case CloseAuthFailed:
		return "auth-failed"
	case CloseCapacity:
		return "capacity-exceeded"
	case CloseInitFailed:
		return "init-failed"
	case CloseShutdown:
		return "shutdown"
	case CloseHeartbeatTimeout:
		return "heartbeat-timeout"
	default:
		return "unknown"
	}
}

// Retryable reports whether a client seeing this close code should attempt
// to reconnect with the same credential.
func (c CloseCode) Retryable() bool {
	switch c {
	case CloseCapacity, CloseShutdown, CloseHeartbeatTimeout:
		return true
	default:
		return false
	}
}
