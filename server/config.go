package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Config holds the process-level settings of a hosted runtime. Defaults can be
// loaded from the environment with ConfigFromEnv.
type Config struct {
	// Host to bind. ENV: AGENTCORE_HOST
	Host string `env:"AGENTCORE_HOST,default=0.0.0.0"`
	// Port to bind. ENV: AGENTCORE_PORT
	Port int `env:"AGENTCORE_PORT,default=8080"`
	// Debug enables the _agent_core_app_action payload actions. ENV: AGENTCORE_DEBUG
	Debug bool `env:"AGENTCORE_DEBUG,default=false"`
	// LogLevel is one of debug, info, warn, error. ENV: AGENTCORE_LOG_LEVEL
	LogLevel string `env:"AGENTCORE_LOG_LEVEL,default=info"`
}

// ConfigFromEnv decodes Config from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("server: decode env: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("server: invalid port %d", cfg.Port)
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level maps LogLevel to a slog.Level, defaulting to Info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
