package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rjroy/adventure-engine/event"
	"github.com/rjroy/adventure-engine/metrics"
	"github.com/rjroy/adventure-engine/session"
	"github.com/rjroy/adventure-engine/wire"
)

// authTimeout bounds the store load during the handshake.
const authTimeout = 10 * time.Second

// handleAuthenticate validates the credential against the durable store and
// binds the connection to its session. Duplicate authentication on an
// already-bound connection is an idempotent no-op that re-acknowledges the
// binding. The store load is I/O; after it returns, the connection record is
// looked up again instead of trusting the pre-I/O view.
func (c *wsConn) handleAuthenticate(m *wire.Authenticate) {
	start := time.Now()
	defer metrics.RecordStopwatch("net", "handshake_time", start)

	snap, ok := c.srv.registry.Lookup(c.id)
	if !ok {
		return
	}
	if snap.Authenticated {
		if snap.SessionID == m.SessionID {
			// Tolerate duplicate authenticate messages without creating a
			// second binding.
			_ = c.Send(wire.NewAuthenticated(snap.SessionID))
			return
		}
		metrics.IncrCounterWithDim("net", "auth_failed_total", metrics.Dimension{"reason": "rebind"})
		_ = c.Send(wire.NewError(wire.CodeAuthFailed, "connection is bound to another session", false))
		return
	}

	if !session.ValidSessionID(m.SessionID) {
		c.rejectAuth("unsafe_session_id", "invalid session id")
		return
	}

	cred := session.Credential{SessionID: m.SessionID, Token: m.Token}

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	state, err := c.srv.store.Load(ctx, m.SessionID)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.rejectAuth("unknown_session", "unknown session")
		} else {
			c.log.Error("session store load failed", zap.String("session_id", m.SessionID), zap.Error(err))
			c.rejectAuth("store_failure", "session could not be loaded")
		}
		return
	}
	if !cred.Verify(state) {
		c.rejectAuth("token_mismatch", "invalid credential")
		return
	}

	// The load suspended us; the sweep may have evicted this connection in
	// the meantime.
	if _, ok := c.srv.registry.Lookup(c.id); !ok {
		return
	}

	ser := session.NewSerializer(state, c.srv.engine, c.srv.store, c, c.srv.serializerCfg(), c.srv.log)
	prev, err := c.srv.registry.Bind(c.id, m.SessionID, ser)
	if err != nil {
		ser.Close()
		return
	}
	if prev != nil {
		// A session is served by one connection at a time; the older one
		// loses. Its serializer is closed here, not left to the old read
		// loop's teardown, so the session never has two serializers with a
		// generation call outstanding.
		prev.Link.Close(wire.CloseNormal, "session superseded by a new connection")
		if prev.Serializer != nil {
			prev.Serializer.Close()
		}
	}

	c.log.Info("connection authenticated", zap.String("session_id", m.SessionID))
	metrics.IncrCounter("net", "auth_success_total")
	_ = c.srv.events.Publish(event.TopicSessionBound, event.SessionBound{
		SessionID: m.SessionID,
		ConnID:    uint64(c.id),
	})
	_ = c.Send(wire.NewAuthenticated(m.SessionID))

	if len(state.Turns) == 0 {
		if err := ser.Bootstrap(); err != nil {
			c.log.Error("failed to enqueue bootstrap turn", zap.Error(err))
		}
	}
}

// rejectAuth reports an authentication failure and closes the connection
// with the non-retryable auth close code.
func (c *wsConn) rejectAuth(metricReason, clientMsg string) {
	metrics.IncrCounterWithDim("net", "auth_failed_total", metrics.Dimension{"reason": metricReason})
	_ = c.Send(wire.NewError(wire.CodeAuthFailed, clientMsg, false))
	c.Close(wire.CloseAuthFailed, clientMsg)
}
