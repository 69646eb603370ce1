// Package server implements the websocket-facing half of the session
// connection protocol: origin-checked upgrades, the authentication
// handshake, the heartbeat sweep that evicts stale connections, and the
// drain controller that notifies and closes every connection on shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/rjroy/adventure-engine/config"
	"github.com/rjroy/adventure-engine/event"
	"github.com/rjroy/adventure-engine/metrics"
	"github.com/rjroy/adventure-engine/registry"
	"github.com/rjroy/adventure-engine/session"
	"github.com/rjroy/adventure-engine/wire"
)

// drainPollTick is the polling interval while waiting for connections to
// finish closing during shutdown.
const drainPollTick = 10 * time.Millisecond

// Server accepts websocket connections and runs the session protocol over
// them.
type Server struct {
	cfg     config.ServerConfig
	sessCfg config.SessionConfig
	store   session.Store
	engine  session.TurnEngine
	log     *zap.Logger

	codec    *wire.Codec
	registry *registry.Registry
	upgrader websocket.Upgrader
	accept   ratelimit.Limiter
	events   *event.Publisher

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	draining    atomic.Bool
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New builds a server from validated configuration. The heartbeat sweep is
// started by Run (or startSweep in tests); New itself spawns nothing.
func New(cfg *config.Config, store session.Store, engine session.TurnEngine, logger *zap.Logger) *Server {
	s := &Server{
		cfg:               cfg.Server,
		sessCfg:           cfg.Session,
		store:             store,
		engine:            engine,
		log:               logger.Named("server"),
		codec:             wire.NewCodec(cfg.Server.MaxInputLen),
		registry:          registry.New(cfg.Server.MaxConnections),
		heartbeatInterval: time.Duration(cfg.Server.HeartbeatIntervalSec) * time.Second,
		sweepDone:         make(chan struct{}),
		events:            event.NewPublisher(logger),
	}
	_ = s.events.NewTopic(event.TopicSessionBound)
	_ = s.events.NewTopic(event.TopicSessionClosed)
	if cfg.Server.HeartbeatTimeoutSec > 0 {
		s.heartbeatTimeout = time.Duration(cfg.Server.HeartbeatTimeoutSec) * time.Second
	} else {
		s.heartbeatTimeout = 2 * s.heartbeatInterval
	}
	if cfg.Server.AcceptRatePerSec > 0 {
		s.accept = ratelimit.New(cfg.Server.AcceptRatePerSec)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: originChecker(cfg.Server.AllowedOrigins, s.log),
	}
	return s
}

// ConnCount returns the number of live connections.
func (s *Server) ConnCount() int { return s.registry.Len() }

// Events exposes the lifecycle publisher so observers can subscribe to
// session bind/close notifications.
func (s *Server) Events() *event.Publisher { return s.events }

func (s *Server) serializerCfg() session.SerializerConfig {
	return session.SerializerConfig{
		TurnDeadline:  time.Duration(s.sessCfg.TurnDeadlineSec) * time.Second,
		MaxQueueDepth: s.sessCfg.MaxQueueDepth,
	}
}

// Handler returns the game-facing HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.handleSession)
	return mux
}

// AdminHandler returns the metrics/health handler served on the admin
// address.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/connz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"connections": s.registry.Len()})
	})
	return mux
}

// handleSession upgrades one connection and hands it to the protocol. The
// public session id may ride the query string for logging; the secret
// credential only ever arrives as the first application message.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.accept != nil {
		s.accept.Take()
	}

	publicID := r.URL.Query().Get("session")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error (including origin
		// rejections).
		metrics.IncrCounter("net", "upgrade_failed_total")
		return
	}

	c := newConn(s, ws)
	id, err := s.registry.Register(c)
	if err != nil {
		if errors.Is(err, registry.ErrCapacity) {
			s.log.Warn("rejecting connection at capacity", zap.String("public_session", publicID))
			metrics.IncrCounter("net", "capacity_rejected_total")
			c.Close(wire.CloseCapacity, "server at capacity, retry later")
		} else {
			c.Close(wire.CloseNormal, "registration failed")
		}
		// The loops observe stop immediately, flush the close frame, and
		// tear the socket down.
		c.serve()
		return
	}
	c.id = id
	c.log = c.log.With(zap.Uint64("conn_id", uint64(id)))
	c.log.Info("connection accepted", zap.String("public_session", publicID))
	c.serve()
}

// Run serves the game and admin listeners until ctx is cancelled, then
// drains. It is the production entry point; tests drive Handler directly.
func (s *Server) Run(ctx context.Context) error {
	s.startSweep()

	gameSrv := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}
	adminSrv := &http.Server{Addr: s.cfg.AdminAddr, Handler: s.AdminHandler()}

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("session listener started", zap.String("addr", s.cfg.Addr))
		if err := gameSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("session listener: %w", err)
		}
	}()
	if s.cfg.AdminAddr != "" {
		go func() {
			s.log.Info("admin listener started", zap.String("addr", s.cfg.AdminAddr))
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin listener: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Shutdown(shutdownCtx)
	_ = gameSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	return nil
}

// Shutdown drains every live connection: new registrations stop, each
// connection receives a shutdown notice and a shutdown-coded close, and the
// call returns once the registry is empty or ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	if !s.draining.CompareAndSwap(false, true) {
		return
	}
	s.stopSweep()

	count := s.registry.Len()
	s.log.Info("draining connections", zap.Int("count", count))

	s.registry.ForEach(func(snap registry.Snapshot) {
		// The notice is best-effort: on a saturated send channel it is
		// dropped and the shutdown close code alone carries the semantics.
		_ = snap.Link.Send(wire.NewError(wire.CodeShutdown, "server shutting down, please reconnect", true))
		snap.Link.Close(wire.CloseShutdown, "server shutting down")
	})

	ticker := time.NewTicker(drainPollTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Warn("drain timed out", zap.Int("remaining", s.registry.Len()))
			return
		case <-ticker.C:
			if s.registry.Len() == 0 {
				s.log.Info("all connections drained")
				return
			}
		}
	}
}

// startSweep launches the heartbeat monitor: a fixed-interval walk over the
// registry that force-closes any connection whose last heartbeat is older
// than the timeout, regardless of transport-level liveness.
func (s *Server) startSweep() {
	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Server) sweep() {
	now := time.Now()
	s.registry.ForEach(func(snap registry.Snapshot) {
		if now.Sub(snap.LastHeartbeat) > s.heartbeatTimeout {
			s.log.Info("evicting stale connection",
				zap.Uint64("conn_id", uint64(snap.ID)),
				zap.Duration("stale_for", now.Sub(snap.LastHeartbeat)))
			metrics.IncrCounter("net", "heartbeat_eviction_total")
			snap.Link.Close(wire.CloseHeartbeatTimeout, "no heartbeat received")
		}
	})
}

func (s *Server) stopSweep() {
	if s.sweepCancel != nil {
		s.sweepCancel()
		<-s.sweepDone
	}
}

// originChecker builds the upgrade origin policy: an explicit allow-list,
// with loopback origins always permitted for development. A missing or
// unparseable origin is rejected before upgrade.
func originChecker(allowed []string, logger *zap.Logger) func(*http.Request) bool {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			logger.Warn("ignoring invalid allowed origin", zap.String("origin", origin))
			continue
		}
		allowSet[strings.ToLower(u.Scheme+"://"+u.Host)] = struct{}{}
	}

	return func(r *http.Request) bool {
		header := r.Header.Get("Origin")
		if header == "" {
			return false
		}
		u, err := url.Parse(header)
		if err != nil || u.Host == "" {
			return false
		}
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
		_, ok := allowSet[strings.ToLower(u.Scheme+"://"+u.Host)]
		if !ok {
			logger.Warn("rejecting disallowed origin", zap.String("origin", header))
		}
		return ok
	}
}
