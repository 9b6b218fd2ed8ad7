// Package config loads runtime settings from the environment and optional
// persona overrides from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings. Every field has a default so the
// service starts with nothing but an LLM API key.
type Config struct {
	// Host and Port for the HTTP listener.
	Host string
	Port int

	// DatabaseURL enables PostgreSQL persistence and NOTIFY/LISTEN event
	// distribution. Empty runs fully in-memory (single replica).
	DatabaseURL string

	// LLM backend.
	LLMAPIKey  string
	LLMBaseURL string
	LLMTimeout time.Duration

	// Dispatch loop tuning.
	MaxDepth           int
	StuckLimit         int
	ConversationWindow int
	RecentMemories     int

	// Memory admission limits.
	MaxIdentifierTokens int
	MaxContentTokens    int

	// PersonaConfigPath points at an optional YAML file overriding the
	// seeded persona defaults.
	PersonaConfigPath string

	LogLevel slog.Level
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Host:                getEnv("COUNCIL_HOST", "0.0.0.0"),
		Port:                getEnvInt("COUNCIL_PORT", 8080),
		DatabaseURL:         getEnv("COUNCIL_DATABASE_URL", ""),
		LLMAPIKey:           getEnv("COUNCIL_LLM_API_KEY", ""),
		LLMBaseURL:          getEnv("COUNCIL_LLM_BASE_URL", ""),
		LLMTimeout:          time.Duration(getEnvInt("COUNCIL_LLM_TIMEOUT_SECONDS", 120)) * time.Second,
		MaxDepth:            getEnvInt("COUNCIL_MAX_DEPTH", 50),
		StuckLimit:          getEnvInt("COUNCIL_STUCK_LIMIT", 5),
		ConversationWindow:  getEnvInt("COUNCIL_CONVERSATION_WINDOW", 20),
		RecentMemories:      getEnvInt("COUNCIL_RECENT_MEMORIES", 10),
		MaxIdentifierTokens: getEnvInt("COUNCIL_MEMORY_IDENTIFIER_TOKENS", 10),
		MaxContentTokens:    getEnvInt("COUNCIL_MEMORY_CONTENT_TOKENS", 2000),
		PersonaConfigPath:   getEnv("COUNCIL_PERSONA_CONFIG", ""),
		LogLevel:            parseLogLevel(getEnv("COUNCIL_LOG_LEVEL", "info")),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("COUNCIL_LLM_API_KEY is required")
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default",
			"key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
