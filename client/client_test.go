package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rjroy/adventure-engine/config"
	"github.com/rjroy/adventure-engine/server"
	"github.com/rjroy/adventure-engine/session"
	"github.com/rjroy/adventure-engine/wire"
)

func TestBackoffSequence(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 800 * time.Millisecond

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, w := range want {
		assert.Equal(t, w, Backoff(initial, max, i+1), "attempt %d", i+1)
	}

	assert.Equal(t, initial, Backoff(initial, max, 0), "sub-1 attempts behave as the first")
	assert.Equal(t, max, Backoff(time.Second, 500*time.Millisecond, 1), "initial above the cap is capped")
	assert.Equal(t, time.Duration(0), Backoff(0, max, 3))
}

// fakeEndpoint upgrades every request and hands the socket to script along
// with the 1-based connection ordinal.
func fakeEndpoint(t *testing.T, script func(n int, ws *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	var n atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		script(int(n.Add(1)), ws)
	}))
	t.Cleanup(ts.Close)
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func acceptAuth(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		return
	}
	_ = ws.WriteJSON(wire.NewAuthenticated("hero-1"))
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	frame := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
	_ = ws.Close()
}

func newClient(t *testing.T, url string, mutate func(*Config)) (*Client, chan State) {
	t.Helper()
	states := make(chan State, 32)
	cfg := Config{
		URL:             url,
		Credential:      session.Credential{SessionID: "hero-1", Token: "tok-1"},
		PingInterval:    50 * time.Millisecond,
		InitialBackoff:  20 * time.Millisecond,
		MaxBackoff:      80 * time.Millisecond,
		ReconnectWindow: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := New(cfg, Handlers{StateChange: func(s State) { states <- s }}, zaptest.NewLogger(t))
	return c, states
}

func awaitState(t *testing.T, states chan State, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestReconnectsAfterRetryableClose(t *testing.T) {
	release := make(chan struct{})
	_, url := fakeEndpoint(t, func(n int, ws *websocket.Conn) {
		acceptAuth(t, ws)
		if n == 1 {
			closeWith(ws, 4005, "no heartbeat received")
			return
		}
		<-release
		_ = ws.Close()
	})

	c, states := newClient(t, url, nil)
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	awaitState(t, states, StateConnected)
	awaitState(t, states, StateReconnecting)
	awaitState(t, states, StateConnected)

	c.Close()
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestAuthRejectionStopsRetry(t *testing.T) {
	var conns atomic.Int32
	_, url := fakeEndpoint(t, func(n int, ws *websocket.Conn) {
		conns.Store(int32(n))
		_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _, _ = ws.ReadMessage()
		_ = ws.WriteJSON(wire.NewError(wire.CodeAuthFailed, "token mismatch", false))
		closeWith(ws, 4001, "authentication failed")
	})

	c, _ := newClient(t, url, nil)
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication rejected")
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, int32(1), conns.Load(), "no retry after an auth rejection")
}

func TestReconnectWindowGivesUp(t *testing.T) {
	_, url := fakeEndpoint(t, func(_ int, ws *websocket.Conn) {
		// Fail before the handshake completes so every attempt counts
		// against the same outage.
		closeWith(ws, 4004, "server shutting down")
	})

	c, _ := newClient(t, url, func(cfg *Config) {
		cfg.ReconnectWindow = 150 * time.Millisecond
	})
	err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrReconnectWindowExceeded)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestContextCancelStopsRun(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	_, url := fakeEndpoint(t, func(_ int, ws *websocket.Conn) {
		acceptAuth(t, ws)
		<-release
		_ = ws.Close()
	})

	c, states := newClient(t, url, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	awaitState(t, states, StateConnected)
	cancel()
	// Cancel alone does not unblock the read; Close tears the socket down.
	c.Close()
	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, c.State())
}

// TestEndToEndAdventure runs the client against the real server: it
// authenticates, receives the opening turn, plays one input, and closes.
func TestEndToEndAdventure(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AcceptRatePerSec = 0
	store := session.NewMemStore()
	store.Seed(session.Credential{SessionID: "hero-1", Token: "tok-1"})
	srv := server.New(cfg, store, &session.ScriptedEngine{}, zaptest.NewLogger(t))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	chunks := make(chan string, 32)
	ends := make(chan uint64, 8)
	states := make(chan State, 32)
	c := New(Config{
		URL:        "ws" + strings.TrimPrefix(ts.URL, "http") + "/session?session=hero-1",
		Credential: session.Credential{SessionID: "hero-1", Token: "tok-1"},
		Origin:     "http://localhost",
	}, Handlers{
		TurnChunk:   func(_ uint64, text string) { chunks <- text },
		TurnEnd:     func(id uint64) { ends <- id },
		StateChange: func(s State) { states <- s },
	}, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	awaitState(t, states, StateConnected)

	select {
	case id := <-ends:
		require.Equal(t, uint64(1), id)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the opening turn")
	}

	require.NoError(t, c.Send("open the door"))
	select {
	case id := <-ends:
		require.Equal(t, uint64(2), id)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the second turn")
	}

	var text strings.Builder
	for {
		select {
		case chunk := <-chunks:
			text.WriteString(chunk)
			continue
		default:
		}
		break
	}
	assert.Contains(t, text.String(), "open the door")

	c.Close()
	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, c.State())
}
