// Package config provides configuration loading, validation, and defaults
// for the ThreadPilot backend. Values come from defaults, an optional
// config.yaml, and THREADPILOT_* environment variables, in that order.
package config

import (
	"time"
)

// Config defines the application configuration for all components:
// HTTP server, logging, database, Threads platform access, Gemini AI
// integration, webhook intake, and scheduled tasks.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Threads   ThreadsConfig   `mapstructure:"threads"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggerConfig controls log verbosity and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"      validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s,max=5m"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s,max=5m"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=5m"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ThreadsConfig holds credentials and endpoints for the Threads graph API.
// AccessToken is the process-wide token used to fetch post context and to
// test connectivity; it is injected into the Threads client, never read
// from the environment at call sites.
type ThreadsConfig struct {
	AccessToken string        `mapstructure:"access_token" validate:"required"`
	AppID       string        `mapstructure:"app_id"`
	AppSecret   string        `mapstructure:"app_secret"`
	BaseURL     string        `mapstructure:"base_url"     validate:"url"`
	Timeout     time.Duration `mapstructure:"timeout"      validate:"min=1s,max=2m"`
}

// GeminiConfig holds Gemini AI API settings.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"     validate:"required"`
	Model       string        `mapstructure:"model"       validate:"required"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Timeout     time.Duration `mapstructure:"timeout"     validate:"min=1s,max=10m"`
}

// WebhookConfig controls the inbound webhook intake path.
// VerifyToken is a bootstrap fallback for the GET handshake used before any
// per-user webhook configuration row exists in the store.
type WebhookConfig struct {
	VerifyToken string `mapstructure:"verify_token"`
	QueueSize   int    `mapstructure:"queue_size" validate:"min=1,max=100000"`
	Workers     int    `mapstructure:"workers"    validate:"min=1,max=64"`
}

// TaskConfig defines one scheduled task entry.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their schedules. Task names must match
// the keys registered in the task registry.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`

	// LogRetention bounds how long audit log rows are kept by the
	// log_retention task. The pipeline itself never deletes rows.
	LogRetention time.Duration `mapstructure:"log_retention" validate:"min=24h"`
}
