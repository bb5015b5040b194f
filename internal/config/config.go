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
	Port            string
	DBPath          string
	FrontendURL     string
	SessionTimeout  time.Duration
	CleanupInterval time.Duration
	WatchInterval   time.Duration
	InitialPageSize int
	SSE             SSEConfig
}

// SSEConfig controls the observer event stream.
type SSEConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBPath:          getEnv("DB_PATH", "./data/timeline.db"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		SessionTimeout:  getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute),
		WatchInterval:   getEnvDuration("WATCH_INTERVAL", 1500*time.Millisecond),
		InitialPageSize: getEnvInt("INITIAL_PAGE_SIZE", 100),
		SSE: SSEConfig{
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:        getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
		},
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
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be > 0")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be > 0")
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("WATCH_INTERVAL must be > 0")
	}
	if c.InitialPageSize <= 0 {
		return fmt.Errorf("INITIAL_PAGE_SIZE must be > 0")
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
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// DefaultRetryBackoff is the reconnect schedule observer clients apply after
// consecutive failures; the last step repeats.
var DefaultRetryBackoff = []time.Duration{
	time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
}

// ParseBackoff parses a comma-separated duration schedule, e.g. "1s,2s,4s".
// Empty or malformed input yields the fallback.
func ParseBackoff(value string, fallback []time.Duration) []time.Duration {
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	var schedule []time.Duration
	for _, part := range strings.Split(value, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			return fallback
		}
		schedule = append(schedule, d)
	}
	return schedule
}
