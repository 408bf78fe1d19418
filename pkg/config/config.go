// Package config loads gitpulse configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Servers
	HTTPPort string
	GRPCPort string

	// Database
	DatabaseDriver string // sqlite or postgres
	DatabaseURL    string

	// GitHub
	GitHubToken           string
	GitHubBaseURL         string
	GitHubRatePerSecond   float64
	GitHubRateBurst       int
	GitHubRequestTimeout  time.Duration
	MaxListedRepositories int

	// Mirror clones for non-GitHub remotes
	WorkspaceDir string

	// Orchestrator
	WorkerCount             int
	QueueSize               int
	BulkConcurrency         int
	RateLimitRounds         int
	RateLimitMaxWait        time.Duration
	TransientRetries        int
	RefreshFreshness        time.Duration
	PeriodicRefreshInterval time.Duration

	LogLevel string
}

var defaults = map[string]any{
	"HTTP_PORT":                 "8080",
	"GRPC_PORT":                 "9090",
	"DATABASE_DRIVER":           "sqlite",
	"DATABASE_URL":              "gitpulse.db",
	"GITHUB_TOKEN":              "",
	"GITHUB_BASE_URL":           "",
	"GITHUB_RATE_PER_SECOND":    1.0,
	"GITHUB_RATE_BURST":         10,
	"GITHUB_REQUEST_TIMEOUT":    "30s",
	"MAX_LISTED_REPOSITORIES":   1000,
	"WORKSPACE_DIR":             "/tmp/gitpulse-workspace",
	"WORKER_COUNT":              4,
	"QUEUE_SIZE":                256,
	"BULK_CONCURRENCY":          2,
	"RATE_LIMIT_ROUNDS":         3,
	"RATE_LIMIT_MAX_WAIT":       "5m",
	"TRANSIENT_RETRIES":         4,
	"REFRESH_FRESHNESS":         "10m",
	"PERIODIC_REFRESH_INTERVAL": "6h",
	"LOG_LEVEL":                 "info",
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// A missing .env is normal outside local development.
		_ = godotenv.Load(f)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{
		HTTPPort:                v.GetString("HTTP_PORT"),
		GRPCPort:                v.GetString("GRPC_PORT"),
		DatabaseDriver:          strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		GitHubToken:             v.GetString("GITHUB_TOKEN"),
		GitHubBaseURL:           v.GetString("GITHUB_BASE_URL"),
		GitHubRatePerSecond:     v.GetFloat64("GITHUB_RATE_PER_SECOND"),
		GitHubRateBurst:         v.GetInt("GITHUB_RATE_BURST"),
		GitHubRequestTimeout:    v.GetDuration("GITHUB_REQUEST_TIMEOUT"),
		MaxListedRepositories:   v.GetInt("MAX_LISTED_REPOSITORIES"),
		WorkspaceDir:            v.GetString("WORKSPACE_DIR"),
		WorkerCount:             v.GetInt("WORKER_COUNT"),
		QueueSize:               v.GetInt("QUEUE_SIZE"),
		BulkConcurrency:         v.GetInt("BULK_CONCURRENCY"),
		RateLimitRounds:         v.GetInt("RATE_LIMIT_ROUNDS"),
		RateLimitMaxWait:        v.GetDuration("RATE_LIMIT_MAX_WAIT"),
		TransientRetries:        v.GetInt("TRANSIENT_RETRIES"),
		RefreshFreshness:        v.GetDuration("REFRESH_FRESHNESS"),
		PeriodicRefreshInterval: v.GetDuration("PERIODIC_REFRESH_INTERVAL"),
		LogLevel:                strings.ToLower(v.GetString("LOG_LEVEL")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later in confusing ways.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	}
	if c.BulkConcurrency < 1 {
		return fmt.Errorf("BULK_CONCURRENCY must be at least 1, got %d", c.BulkConcurrency)
	}
	if c.GitHubRatePerSecond <= 0 {
		return fmt.Errorf("GITHUB_RATE_PER_SECOND must be positive")
	}
	return nil
}
