// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string

	// Orchestrator limits.
	MaxConcurrentSessions int
	MaxWorkflowSteps      int
	MaxStepLength         int

	// Stream transport.
	StreamBufferSize int

	// Optional AI backend (gRPC health-checked). Empty disables validation.
	AIAgentAddr string

	// Run history archive.
	History HistoryConfig

	// Local executor simulator used when no real executor is attached.
	SimulatedStepDuration time.Duration
}

// HistoryConfig controls the SQLite run/event archive.
type HistoryConfig struct {
	Enabled bool
	DBPath  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		FrontendURL:           getEnv("FRONTEND_URL", ""),
		MaxConcurrentSessions: getEnvInt("MAX_CONCURRENT_SESSIONS", 10),
		MaxWorkflowSteps:      getEnvInt("MAX_WORKFLOW_STEPS", 50),
		MaxStepLength:         getEnvInt("MAX_STEP_LENGTH", 2000),
		StreamBufferSize:      getEnvInt("STREAM_BUFFER_SIZE", 256),
		AIAgentAddr:           getEnv("AI_AGENT_ADDR", ""),
		History: HistoryConfig{
			Enabled: getEnvBool("HISTORY_ENABLED", true),
			DBPath:  getEnv("DB_PATH", "./data/stepstream.db"),
		},
		SimulatedStepDuration: getEnvDuration("SIMULATED_STEP_DURATION", 250*time.Millisecond),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_SESSIONS must be > 0")
	}
	if c.MaxWorkflowSteps <= 0 {
		return fmt.Errorf("MAX_WORKFLOW_STEPS must be > 0")
	}
	if c.MaxStepLength <= 0 {
		return fmt.Errorf("MAX_STEP_LENGTH must be > 0")
	}
	if c.StreamBufferSize <= 0 {
		return fmt.Errorf("STREAM_BUFFER_SIZE must be > 0")
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when HISTORY_ENABLED is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
