package adventure

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rjroy/adventure-engine/config"
	"github.com/rjroy/adventure-engine/event"
	"github.com/rjroy/adventure-engine/server"
	"github.com/rjroy/adventure-engine/session"
)

// App is the assembled adventure server, holding the major components and
// their shared dependencies.
type App struct {
	Logger *zap.Logger
	Config *config.Config
	Store  session.Store
	Engine session.TurnEngine
	Server *server.Server
}

// Option overrides a default component before the server is assembled.
type Option func(*App)

// WithStore replaces the default in-memory session store.
func WithStore(store session.Store) Option {
	return func(a *App) { a.Store = store }
}

// WithEngine replaces the default scripted turn engine.
func WithEngine(engine session.TurnEngine) Option {
	return func(a *App) { a.Engine = engine }
}

// New validates the configuration and assembles an application instance.
// Without options it runs on the in-memory store and the scripted engine,
// which is enough for development and tests.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	app := &App{
		Logger: logger,
		Config: cfg,
		Store:  session.NewMemStore(),
		Engine: &session.ScriptedEngine{},
	}
	for _, opt := range opts {
		opt(app)
	}

	app.Server = server.New(cfg, app.Store, app.Engine, logger)
	subscribeLifecycleLog(app.Server, logger)

	logger.Info("adventure engine initialized",
		zap.String("addr", cfg.Server.Addr),
		zap.String("admin_addr", cfg.Server.AdminAddr))
	return app, nil
}

// subscribeLifecycleLog records session bind/close events in the audit
// log. Analytics integrations subscribe to the same topics.
func subscribeLifecycleLog(srv *server.Server, logger *zap.Logger) {
	audit := logger.Named("audit")
	_ = srv.Events().Subscribe(event.TopicSessionBound, func(payload any) {
		if e, ok := payload.(event.SessionBound); ok {
			audit.Info("session bound", zap.String("session_id", e.SessionID), zap.Uint64("conn_id", e.ConnID))
		}
	})
	_ = srv.Events().Subscribe(event.TopicSessionClosed, func(payload any) {
		if e, ok := payload.(event.SessionClosed); ok {
			audit.Info("session closed", zap.String("session_id", e.SessionID), zap.Uint64("conn_id", e.ConnID))
		}
	})
}

// Run serves until ctx is cancelled, then drains every live connection.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx)
}

// Stop flushes buffered log output.
func (a *App) Stop() {
	a.Logger.Info("adventure engine shutting down")
	_ = a.Logger.Sync()
}

// NewLogger builds a zap logger from the log section of the configuration.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
