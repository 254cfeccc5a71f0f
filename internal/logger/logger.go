// Package logger provides structured logging for ThreadPilot.
// It uses Go's slog package with configurable level and output format.
package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// NewLogger creates a new slog Logger with the specified level and format.
// If jsonOutput is true, logs are formatted as JSON, otherwise as text.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Middleware creates a gin middleware that logs every HTTP request with
// method, path, status, and duration. Webhook deliveries and dashboard
// calls share this single request log.
func Middleware(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		path := c.Request.URL.Path
		logEntry := log.With(
			"method", c.Request.Method,
			"path", path,
		)

		logEntry.InfoContext(c.Request.Context(), "Processing request")

		c.Next()

		duration := time.Since(startTime)
		logEntry.InfoContext(c.Request.Context(), "Finished request",
			"status", c.Writer.Status(),
			"duration", duration,
		)
	}
}
