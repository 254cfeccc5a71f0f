// Package tasks implements the scheduled background tasks: database
// maintenance and audit log retention. Task functions are registered by
// name and matched against the scheduler configuration.
package tasks

import (
	"log/slog"

	"github.com/threadpilot/threadpilot/internal/config"
	"github.com/threadpilot/threadpilot/internal/database"
)

// TaskDeps contains the dependencies available to scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Config *config.Config
}
