// Package session holds the per-session state model: the credential checked
// during the authentication handshake, the durable store interface, the
// turn-generation engine interface, and the turn serializer that guarantees
// at-most-one in-flight turn per session in strict submission order.
package session

import (
	"crypto/subtle"
	"regexp"
)

// Credential is an opaque session identifier plus a secret token, issued out
// of band and verified against the durable store during the handshake.
// Immutable once issued; no expiry is enforced here.
type Credential struct {
	SessionID string
	Token     string
}

// Session identifiers are constrained before any store access so a hostile
// identifier can never reach a path or key lookup.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidSessionID reports whether id is safe to use as a store key.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Verify checks the credential against loaded session state. The token
// comparison is constant-time.
func (c Credential) Verify(state *State) bool {
	if state == nil || c.SessionID != state.SessionID {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Token), []byte(state.Token)) == 1
}
