package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// HTTP Configuration:
// - HTTP_ADDR: listen address for the API server (default: :8080)
//
// Timetable Portal Configuration:
// - PLAN_BASE_URL: base URL of the timetable portal (default: https://plan.zut.edu.pl)
// - PLAN_TIMEOUT: per-request timeout in seconds (default: 60)
// - DEFAULT_TOK_NAME: study-path identifier used when a sync request omits one
//
// Sync Configuration:
// - SYNC_MAX_WORKERS: default concurrent room/group fetches per call (default: 10)
// - SYNC_CRON_EXPR: schedule for the background discovery refresh (default: 0 3 * * *)
//
// System Configuration:
// - DB_PATH: path to the sqlite cache database (default: data/plansync.db)
// - LOG_LEVEL: DEBUG|INFO|WARN|ERROR (default: INFO)

type Config struct {
	HTTP HTTPConfig `json:"http"`
	Plan PlanConfig `json:"plan"`
	Sync SyncConfig `json:"sync"`
	DB   DBConfig   `json:"db"`

	LogLevel string `json:"log_level"`
}

// HTTPConfig holds the API server configuration
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// PlanConfig holds the timetable portal client configuration
type PlanConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	DefaultTokName string `json:"default_tok_name"`
}

// SyncConfig holds the discovery/sync configuration
type SyncConfig struct {
	MaxWorkers int    `json:"max_workers"`
	CronExpr   string `json:"cron_expr"`
}

// DBConfig holds the durable store configuration
type DBConfig struct {
	Path string `json:"path"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		Plan: PlanConfig{
			BaseURL:        getEnvString("PLAN_BASE_URL", "https://plan.zut.edu.pl"),
			TimeoutSeconds: getEnvInt("PLAN_TIMEOUT", 60),
			DefaultTokName: getEnvString("DEFAULT_TOK_NAME", ""),
		},
		Sync: SyncConfig{
			MaxWorkers: getEnvInt("SYNC_MAX_WORKERS", 10),
			CronExpr:   getEnvString("SYNC_CRON_EXPR", "0 3 * * *"),
		},
		DB: DBConfig{
			Path: getEnvString("DB_PATH", "data/plansync.db"),
		},
		LogLevel: getEnvString("LOG_LEVEL", "INFO"),
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Plan.BaseURL == "" {
		return fmt.Errorf("PLAN_BASE_URL is required")
	}
	if c.Plan.TimeoutSeconds <= 0 {
		return fmt.Errorf("PLAN_TIMEOUT must be positive")
	}
	if c.Sync.MaxWorkers <= 0 {
		return fmt.Errorf("SYNC_MAX_WORKERS must be positive")
	}
	if c.Sync.CronExpr != "" {
		if _, err := cron.ParseStandard(c.Sync.CronExpr); err != nil {
			return fmt.Errorf("invalid SYNC_CRON_EXPR: %w", err)
		}
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
