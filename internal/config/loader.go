package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Default values for optional configuration parameters.
const (
	DefaultLogLevel = "info"

	DefaultListenAddr      = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultDBPath = "threadpilot.db"

	DefaultThreadsBaseURL = "https://graph.threads.net"
	DefaultThreadsTimeout = 15 * time.Second

	DefaultGeminiModel       = "gemini-pro"
	DefaultGeminiTemperature = float32(1.0)
	DefaultGeminiTimeout     = 2 * time.Minute

	DefaultWebhookQueueSize = 256
	DefaultWebhookWorkers   = 4

	DefaultLogRetention = 30 * 24 * time.Hour
)

// LoadConfig reads configuration from the given YAML file (optional),
// applies defaults, overlays THREADPILOT_* environment variables, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("THREADPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets have no defaults, so Unmarshal would skip their keys even
	// with AutomaticEnv; bind them explicitly.
	for _, key := range []string{
		"threads.access_token",
		"threads.app_id",
		"threads.app_secret",
		"gemini.api_key",
		"webhook.verify_token",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// SetConfigFile bypasses the not-found type for explicit paths;
			// a missing file surfaces as a generic open error. Allow it and
			// fall back to defaults plus environment.
			if !strings.Contains(err.Error(), "no such file") {
				return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
			}
		}
		slog.Info("Config file not found, using defaults and environment", "path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", DefaultLogLevel)
	v.SetDefault("logger.json", true)

	v.SetDefault("server.listen_addr", DefaultListenAddr)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)

	v.SetDefault("database.path", DefaultDBPath)

	v.SetDefault("threads.base_url", DefaultThreadsBaseURL)
	v.SetDefault("threads.timeout", DefaultThreadsTimeout)

	v.SetDefault("gemini.model", DefaultGeminiModel)
	v.SetDefault("gemini.temperature", DefaultGeminiTemperature)
	v.SetDefault("gemini.timeout", DefaultGeminiTimeout)

	v.SetDefault("webhook.queue_size", DefaultWebhookQueueSize)
	v.SetDefault("webhook.workers", DefaultWebhookWorkers)

	v.SetDefault("scheduler.log_retention", DefaultLogRetention)
	v.SetDefault("scheduler.tasks", map[string]TaskConfig{
		"sql_maintenance": {Enabled: true, Schedule: "0 0 4 * * *"},
		"log_retention":   {Enabled: true, Schedule: "0 30 4 * * *"},
	})
}
