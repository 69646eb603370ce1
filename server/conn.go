package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rjroy/adventure-engine/event"
	"github.com/rjroy/adventure-engine/metrics"
	"github.com/rjroy/adventure-engine/registry"
	"github.com/rjroy/adventure-engine/session"
	"github.com/rjroy/adventure-engine/wire"
)

// writeWait bounds every outbound write, control frames included.
const writeWait = 10 * time.Second

var (
	errConnClosed = errors.New("server: connection is closed")
	errSendFull   = errors.New("server: send channel is full")
)

// wsConn is the server-side state for one websocket connection. It runs two
// dedicated goroutines, one reading and one writing, and implements both
// registry.Link (so the sweep and drain controllers can notify and close it)
// and session.Emitter (so the bound serializer can stream turn output).
type wsConn struct {
	id  registry.ConnID
	ws  *websocket.Conn
	srv *Server
	log *zap.Logger

	send      chan wire.Message
	stop      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter

	// Set once by Close before stop is closed; read by the write loop when
	// it emits the close frame.
	closeCode   wire.CloseCode
	closeReason string
}

func newConn(srv *Server, ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:      ws,
		srv:     srv,
		log:     srv.log.With(zap.String("remote", ws.RemoteAddr().String())),
		send:    make(chan wire.Message, srv.cfg.SendChannelSize),
		stop:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(srv.cfg.InputRatePerSec), srv.cfg.InputBurst),
	}
}

// serve launches the connection's read and write goroutines.
func (c *wsConn) serve() {
	go c.writeLoop()
	go c.readLoop()
}

// Send queues a message for this connection. It never blocks: a saturated
// send channel is back-pressure, and the message is dropped with an error.
func (c *wsConn) Send(msg wire.Message) error {
	select {
	case <-c.stop:
		return errConnClosed
	case c.send <- msg:
		return nil
	default:
		c.log.Warn("send channel full, dropping message", zap.String("msg_type", string(msg.Kind())))
		metrics.IncrCounter("net", "send_channel_full_total")
		return errSendFull
	}
}

// Close shuts the connection down with a semantic close code. Safe to call
// from any goroutine, any number of times. The write loop flushes any
// already-queued messages, emits the close frame, and closes the socket;
// the read loop then observes the closed socket and performs registry
// cleanup.
func (c *wsConn) Close(code wire.CloseCode, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.stop)
		metrics.IncrCounterWithDim("net", "connection_closed_total", metrics.Dimension{"code": code.Name()})
		c.log.Info("connection closing", zap.String("close_code", code.Name()), zap.String("reason", reason))
	})
}

// readLoop owns inbound traffic: it decodes each frame at the boundary and
// dispatches the validated message. On exit it removes the connection's
// registry record and tears down the bound serializer, so no dangling entry
// can outlive the connection.
func (c *wsConn) readLoop() {
	defer func() {
		c.Close(wire.CloseNormal, "")
		snap, ok := c.srv.registry.Lookup(c.id)
		if ser := c.srv.registry.Remove(c.id); ser != nil {
			ser.Close()
		}
		if ok && snap.Authenticated {
			_ = c.srv.events.Publish(event.TopicSessionClosed, event.SessionClosed{
				SessionID: snap.SessionID,
				ConnID:    uint64(c.id),
			})
		}
	}()

	c.ws.SetReadLimit(int64(c.srv.cfg.MaxInputLen) + 1024)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}

		msg, err := c.srv.codec.Decode(raw)
		if err != nil {
			metrics.IncrCounter("net", "protocol_error_total")
			c.log.Debug("rejected malformed message", zap.Error(err))
			_ = c.Send(wire.NewError(wire.CodeProtocol, "malformed message", false))
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch routes one validated inbound message. Handlers run on the read
// goroutine; anything I/O-bound re-looks-up the connection record afterwards
// rather than assuming it survived.
func (c *wsConn) dispatch(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Ping:
		c.srv.registry.Heartbeat(c.id)
		_ = c.Send(wire.NewPong())
	case *wire.Authenticate:
		c.handleAuthenticate(m)
	case *wire.StartAdventure:
		// Idempotent marker; the bootstrap turn is driven by the handshake.
		c.log.Debug("start_adventure received")
	case *wire.PlayerInput:
		c.handleInput(m)
	default:
		// A server-to-client variant arriving inbound is a protocol breach.
		metrics.IncrCounter("net", "protocol_error_total")
		_ = c.Send(wire.NewError(wire.CodeProtocol, "unexpected message direction", false))
	}
}

// handleInput enqueues player input on the session's turn serializer, after
// the authentication and flood checks.
func (c *wsConn) handleInput(m *wire.PlayerInput) {
	snap, ok := c.srv.registry.Lookup(c.id)
	if !ok {
		return
	}
	if !snap.Authenticated {
		metrics.IncrCounterWithDim("net", "input_rejected_total", metrics.Dimension{"reason": "unauthenticated"})
		_ = c.Send(wire.NewError(wire.CodeNotAuthenticated, "authenticate before sending input", false))
		return
	}
	if !c.limiter.Allow() {
		metrics.IncrCounterWithDim("net", "input_rejected_total", metrics.Dimension{"reason": "rate_limited"})
		_ = c.Send(wire.NewError(wire.CodeRateLimited, "too many inputs, slow down", true))
		return
	}

	if err := snap.Serializer.Submit(m.Text); err != nil {
		switch {
		case errors.Is(err, session.ErrQueueFull):
			_ = c.Send(wire.NewError(wire.CodeQueueFull, "turn queue is full, retry shortly", true))
		default:
			c.log.Debug("submit failed", zap.Error(err))
		}
	}
}

// session.Emitter implementation: the serializer streams a turn's lifecycle
// through the bound connection. Send failures mean the connection is gone or
// saturated; the serializer does not care.

func (c *wsConn) TurnStart(turnID uint64) {
	_ = c.Send(wire.NewTurnStart(turnID))
}

func (c *wsConn) TurnChunk(turnID uint64, text string) {
	_ = c.Send(wire.NewTurnChunk(turnID, text))
}

func (c *wsConn) TurnEnd(turnID uint64) {
	_ = c.Send(wire.NewTurnEnd(turnID))
}

func (c *wsConn) TurnError(code wire.ErrorCode, msg string, retryable bool) {
	_ = c.Send(wire.NewError(code, msg, retryable))
}

// writeLoop serializes all writes to the socket, draining the send channel.
// When stop is closed it flushes whatever was queued ahead of the close, so
// a rejection or shutdown notice reaches the peer before its close frame.
func (c *wsConn) writeLoop() {
	defer c.ws.Close()
	for {
		select {
		case <-c.stop:
			c.flushAndCloseFrame()
			return
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				c.Close(wire.CloseNormal, "write failure")
				c.flushAndCloseFrame()
				return
			}
		}
	}
}

func (c *wsConn) writeMessage(msg wire.Message) error {
	raw, err := c.srv.codec.Encode(msg)
	if err != nil {
		c.log.Error("failed to encode outbound message", zap.Error(err))
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.log.Debug("write failed", zap.Error(err))
		return err
	}
	return nil
}

func (c *wsConn) flushAndCloseFrame() {
	for {
		select {
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		default:
			frame := websocket.FormatCloseMessage(int(c.closeCode), c.closeReason)
			_ = c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
			return
		}
	}
}
