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
	Port           string
	FrontendURL    string
	DBPath         string
	APIURL         string // base URL of the code-healing backend
	GRPCHealthAddr string // empty disables the gRPC health server
	Reconnect      ReconnectConfig
	Timeout        TimeoutConfig
	History        HistoryConfig
	RateLimit      RateLimitConfig
}

// ReconnectConfig controls the live connection backoff.
type ReconnectConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// TimeoutConfig holds timeouts for outbound calls.
type TimeoutConfig struct {
	Dial        time.Duration
	Wake        time.Duration
	Connect     time.Duration
	HealthCheck time.Duration
}

// HistoryConfig controls local run history.
type HistoryConfig struct {
	Retention     time.Duration // zero keeps runs forever
	SweepInterval time.Duration
}

// RateLimitConfig throttles run submissions per client.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/healdash.db"),
		APIURL:         getEnv("API_URL", "http://localhost:8000"),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		Reconnect: ReconnectConfig{
			BaseDelay:  getEnvDuration("RECONNECT_BASE_DELAY", 2*time.Second),
			MaxDelay:   getEnvDuration("RECONNECT_MAX_DELAY", 30*time.Second),
			MaxRetries: getEnvInt("RECONNECT_MAX_RETRIES", 10),
		},
		Timeout: TimeoutConfig{
			Dial:        getEnvDuration("DIAL_TIMEOUT", 10*time.Second),
			Wake:        getEnvDuration("WAKE_TIMEOUT", 90*time.Second),
			Connect:     getEnvDuration("CONNECT_TIMEOUT", 15*time.Second),
			HealthCheck: 5 * time.Second,
		},
		History: HistoryConfig{
			Retention:     getEnvDuration("HISTORY_RETENTION", 30*24*time.Hour),
			SweepInterval: getEnvDuration("HISTORY_SWEEP_INTERVAL", time.Hour),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 5),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
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
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("API_URL must be an http(s) URL, got %q", c.APIURL)
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("RECONNECT_BASE_DELAY must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY must be >= RECONNECT_BASE_DELAY")
	}
	if c.Reconnect.MaxRetries <= 0 {
		return fmt.Errorf("RECONNECT_MAX_RETRIES must be > 0")
	}
	if c.Timeout.Dial <= 0 || c.Timeout.Wake <= 0 || c.Timeout.Connect <= 0 {
		return fmt.Errorf("DIAL_TIMEOUT, WAKE_TIMEOUT and CONNECT_TIMEOUT must be > 0")
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("HISTORY_RETENTION cannot be negative")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// FrontendOrigin returns the frontend URL in the form browsers send as Origin.
func (c *Config) FrontendOrigin() string {
	return strings.TrimRight(strings.TrimSpace(c.FrontendURL), "/")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendOrigin()}
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

// getEnvDuration accepts Go durations ("30s") or bare milliseconds ("2000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
