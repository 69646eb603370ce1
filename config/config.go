// Package config defines the configuration surface for the adventure
// server and loads it from a config file (TOML or YAML) plus environment
// overrides via viper. Each section is a struct with mapstructure tags and
// a Validate method; the loaded tree is rejected as a whole if any section
// is invalid.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ServerConfig holds the network-facing parameters of the session server.
type ServerConfig struct {
	// Addr is the listen address for the websocket endpoint.
	Addr string `mapstructure:"addr"`
	// AdminAddr is the listen address for the metrics/health endpoints.
	AdminAddr string `mapstructure:"adminAddr"`
	// AllowedOrigins is the explicit origin allow-list checked before
	// upgrade. Loopback origins are always permitted for development.
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	// MaxConnections bounds live connections; registration past the bound is
	// rejected before authentication with a retryable close.
	MaxConnections int `mapstructure:"maxConnections"`
	// HeartbeatIntervalSec is the expected client ping interval in seconds.
	HeartbeatIntervalSec int `mapstructure:"heartbeatIntervalSec"`
	// HeartbeatTimeoutSec is the staleness window in seconds. Zero means
	// twice the interval.
	HeartbeatTimeoutSec int `mapstructure:"heartbeatTimeoutSec"`
	// SendChannelSize is the per-connection outbound queue depth.
	SendChannelSize int `mapstructure:"sendChannelSize"`
	// MaxInputLen bounds player_input text in bytes.
	MaxInputLen int `mapstructure:"maxInputLen"`
	// AcceptRatePerSec smooths the upgrade path; zero disables the limiter.
	AcceptRatePerSec int `mapstructure:"acceptRatePerSec"`
	// InputRatePerSec is the per-connection steady input rate.
	InputRatePerSec int `mapstructure:"inputRatePerSec"`
	// InputBurst is the per-connection input burst allowance.
	InputBurst int `mapstructure:"inputBurst"`
}

// GetName returns the configuration key for the server section.
func (c *ServerConfig) GetName() string { return "server" }

// Validate checks that the server parameters are within acceptable ranges.
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("Addr cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}
	if c.HeartbeatIntervalSec <= 0 {
		return errors.New("HeartbeatIntervalSec must be positive")
	}
	if c.HeartbeatTimeoutSec < 0 {
		return errors.New("HeartbeatTimeoutSec cannot be negative")
	}
	if c.HeartbeatTimeoutSec > 0 && c.HeartbeatTimeoutSec <= c.HeartbeatIntervalSec {
		return errors.New("HeartbeatTimeoutSec must exceed HeartbeatIntervalSec")
	}
	if c.SendChannelSize <= 0 {
		return errors.New("SendChannelSize must be positive")
	}
	if c.MaxInputLen <= 0 {
		return errors.New("MaxInputLen must be positive")
	}
	if c.InputRatePerSec <= 0 {
		return errors.New("InputRatePerSec must be positive")
	}
	if c.InputBurst <= 0 {
		return errors.New("InputBurst must be positive")
	}
	return nil
}

// SessionConfig holds the per-session turn processing parameters.
type SessionConfig struct {
	// TurnDeadlineSec is the finite deadline for one turn-generation call.
	TurnDeadlineSec int `mapstructure:"turnDeadlineSec"`
	// MaxQueueDepth caps queued-but-unprocessed turn requests per session.
	// Input past the cap is rejected with a retryable error.
	MaxQueueDepth int `mapstructure:"maxQueueDepth"`
}

// GetName returns the configuration key for the session section.
func (c *SessionConfig) GetName() string { return "session" }

// Validate checks that the session parameters are within acceptable ranges.
func (c *SessionConfig) Validate() error {
	if c.TurnDeadlineSec <= 0 {
		return errors.New("TurnDeadlineSec must be positive")
	}
	if c.MaxQueueDepth <= 0 {
		return errors.New("MaxQueueDepth must be positive")
	}
	return nil
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Development switches to the human-readable development encoder.
	Development bool `mapstructure:"development"`
}

// GetName returns the configuration key for the log section.
func (c *LogConfig) GetName() string { return "log" }

// Validate checks the configured log level.
func (c *LogConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", c.Level)
	}
}

// Config is the full configuration tree.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
}

// Validate validates every section.
func (c *Config) Validate() error {
	sections := []interface {
		GetName() string
		Validate() error
	}{&c.Server, &c.Session, &c.Log}
	for _, s := range sections {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("config section %q: %w", s.GetName(), err)
		}
	}
	return nil
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                 ":8420",
			AdminAddr:            ":8421",
			MaxConnections:       1024,
			HeartbeatIntervalSec: 15,
			SendChannelSize:      64,
			MaxInputLen:          4096,
			AcceptRatePerSec:     100,
			InputRatePerSec:      4,
			InputBurst:           8,
		},
		Session: SessionConfig{
			TurnDeadlineSec: 30,
			MaxQueueDepth:   8,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the config file at path (or the defaults when path is empty),
// layers ADVENTURE_-prefixed environment variables on top, and decodes the
// result into a validated Config. Unknown keys are rejected; environment
// values arrive as strings, so the decode is weakly typed and Validate
// guards the ranges.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("ADVENTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := registerKeys(v, cfg); err != nil {
		return nil, fmt.Errorf("register config keys: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("create config decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// registerKeys registers every config key with viper as a default. A key
// viper has never seen is invisible to AutomaticEnv and absent from
// AllSettings, so without this step environment-only overrides would never
// reach the decoder.
func registerKeys(v *viper.Viper, cfg *Config) error {
	var settings map[string]any
	if err := mapstructure.Decode(cfg, &settings); err != nil {
		return err
	}
	for section, values := range settings {
		sub, ok := values.(map[string]any)
		if !ok {
			v.SetDefault(section, values)
			continue
		}
		for key, val := range sub {
			v.SetDefault(section+"."+key, val)
		}
	}
	return nil
}
