// Package client implements the player-side connection controller: it
// dials the session endpoint, authenticates, streams turn events to
// handlers, keeps the heartbeat alive, and reconnects with exponential
// backoff when the link drops for a retryable reason.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rjroy/adventure-engine/session"
	"github.com/rjroy/adventure-engine/wire"
)

var (
	// ErrNotConnected is returned by Send while no authenticated link is up.
	ErrNotConnected = errors.New("client: not connected")
	// ErrReconnectWindowExceeded is returned by Run when an outage outlasts
	// the configured reconnection window.
	ErrReconnectWindowExceeded = errors.New("client: reconnection window exceeded")
)

// State is the controller's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config describes one client connection.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:8420/session.
	URL        string
	Credential session.Credential
	// Origin is sent on the upgrade request. Servers outside loopback
	// enforce an allow-list.
	Origin string

	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	// ReconnectWindow bounds the total duration of one outage's retry loop.
	ReconnectWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 8 * time.Second
	}
	if c.ReconnectWindow <= 0 {
		c.ReconnectWindow = 2 * time.Minute
	}
	return c
}

// Handlers receives protocol events. Nil members are skipped. Handlers run
// on the read goroutine; they must not block.
type Handlers struct {
	TurnStart   func(turnID uint64)
	TurnChunk   func(turnID uint64, text string)
	TurnEnd     func(turnID uint64)
	ErrorEvent  func(code wire.ErrorCode, msg string, retryable bool)
	StateChange func(s State)
}

// Client is the reconnecting session connection. Create with New, drive
// with Run, send input with Send, and stop with Close or context cancel.
type Client struct {
	cfg      Config
	handlers Handlers
	log      *zap.Logger
	codec    *wire.Codec

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once

	mu sync.Mutex // guards ws identity and all writes to it
	ws *websocket.Conn
}

func New(cfg Config, handlers Handlers, logger *zap.Logger) *Client {
	return &Client{
		cfg:      cfg.withDefaults(),
		handlers: handlers,
		log:      logger.Named("client").With(zap.String("session_id", cfg.Credential.SessionID)),
		codec:    wire.NewCodec(0),
		stop:     make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.log.Debug("state changed", zap.Stringer("state", s))
	if c.handlers.StateChange != nil {
		c.handlers.StateChange(s)
	}
}

// Send submits player input on the live connection.
func (c *Client) Send(text string) error {
	return c.write(wire.NewPlayerInput(text))
}

// Close tears the connection down intentionally; Run returns nil and no
// reconnect is attempted.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.mu.Unlock()
	})
}

func (c *Client) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Run drives the connect/authenticate/pump/reconnect loop until the
// context is cancelled, Close is called, the server ends the session, or a
// non-retryable failure occurs. Every attempt re-authenticates from
// scratch; the server replays nothing.
func (c *Client) Run(ctx context.Context) error {
	cfg := c.cfg
	attempt := 0
	var outageStart time.Time

	for {
		if attempt == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		ws, retryable, err := c.connect(ctx)
		if err == nil {
			attempt = 0
			c.log.Info("connected and authenticated")
			c.setState(StateConnected)
			retryable, err = c.pump(ws)
		}

		if c.stopped() || ctx.Err() != nil {
			c.setState(StateDisconnected)
			return nil
		}
		if err == nil || !retryable {
			c.setState(StateDisconnected)
			return err
		}

		attempt++
		if attempt == 1 {
			outageStart = time.Now()
		}
		delay := Backoff(cfg.InitialBackoff, cfg.MaxBackoff, attempt)
		if time.Since(outageStart)+delay > cfg.ReconnectWindow {
			c.log.Warn("giving up on reconnection", zap.Int("attempts", attempt))
			c.setState(StateDisconnected)
			return ErrReconnectWindowExceeded
		}
		c.log.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return nil
		case <-c.stop:
			c.setState(StateDisconnected)
			return nil
		case <-time.After(delay):
		}
	}
}

// retryableClose classifies a read failure by its close code; anything that
// is not a websocket close (a dead TCP link, a timeout) is worth retrying.
func retryableClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return wire.CloseCode(ce.Code).Retryable()
	}
	return true
}

// connect dials the endpoint and runs the authentication handshake. The
// second return reports whether a failure is worth retrying.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}

	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			// The server answered HTTP: 503 means draining, anything else
			// (origin rejection and the like) will not heal on its own.
			retry := resp.StatusCode == http.StatusServiceUnavailable
			return nil, retry, fmt.Errorf("client: upgrade refused with status %d: %w", resp.StatusCode, err)
		}
		return nil, true, fmt.Errorf("client: dial: %w", err)
	}

	if err := ws.WriteJSON(wire.NewAuthenticate(c.cfg.Credential.SessionID, c.cfg.Credential.Token)); err != nil {
		_ = ws.Close()
		return nil, true, fmt.Errorf("client: send authenticate: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, retryableClose(err), fmt.Errorf("client: await authenticated: %w", err)
	}
	msg, err := c.codec.Decode(raw)
	if err != nil {
		_ = ws.Close()
		return nil, false, fmt.Errorf("client: handshake response: %w", err)
	}
	switch m := msg.(type) {
	case *wire.Authenticated:
		_ = ws.SetReadDeadline(time.Time{})
		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		return ws, false, nil
	case *wire.Error:
		_ = ws.Close()
		return nil, m.Retryable, fmt.Errorf("client: authentication rejected: %s (%s)", m.Message, m.Code)
	default:
		_ = ws.Close()
		return nil, false, fmt.Errorf("client: unexpected handshake response %q", m.Kind())
	}
}

// pump reads protocol events until the connection drops, keeping the
// heartbeat ticking meanwhile. It reports whether the drop is retryable.
func (c *Client) pump(ws *websocket.Conn) (bool, error) {
	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(pingDone)

	defer func() {
		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if c.stopped() {
				return false, nil
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				if ce.Code == websocket.CloseNormalClosure {
					// The server ended the session cleanly; nothing to
					// retry and nothing to report.
					return false, nil
				}
				return wire.CloseCode(ce.Code).Retryable(), fmt.Errorf("client: connection closed: %w", err)
			}
			return true, fmt.Errorf("client: read: %w", err)
		}

		msg, err := c.codec.Decode(raw)
		if err != nil {
			c.log.Warn("dropping undecodable server message", zap.Error(err))
			continue
		}
		switch m := msg.(type) {
		case *wire.TurnStart:
			if c.handlers.TurnStart != nil {
				c.handlers.TurnStart(m.TurnID)
			}
		case *wire.TurnChunk:
			if c.handlers.TurnChunk != nil {
				c.handlers.TurnChunk(m.TurnID, m.Text)
			}
		case *wire.TurnEnd:
			if c.handlers.TurnEnd != nil {
				c.handlers.TurnEnd(m.TurnID)
			}
		case *wire.Error:
			c.log.Warn("server error event",
				zap.String("code", string(m.Code)), zap.String("message", m.Message))
			if c.handlers.ErrorEvent != nil {
				c.handlers.ErrorEvent(m.Code, m.Message, m.Retryable)
			}
		case *wire.Pong:
			// Liveness acknowledged.
		case *wire.Authenticated:
			// Duplicate ack; harmless.
		default:
			c.log.Warn("unexpected server message", zap.String("msg_type", string(m.Kind())))
		}
	}
}

func (c *Client) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(wire.NewPing()); err != nil {
				return
			}
		}
	}
}

// write serializes all outbound traffic on the current connection.
func (c *Client) write(msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	raw, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}
