package tasks

import (
	"context"
	"fmt"
	"time"
)

// newLogRetentionTask creates the task that prunes audit log rows older
// than the configured retention window. This is the only code path that
// ever deletes from the logs table.
func newLogRetentionTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "log_retention")

	return func(ctx context.Context) error {
		retention := deps.Config.Scheduler.LogRetention
		cutoff := time.Now().UTC().Add(-retention)

		log.InfoContext(ctx, "Starting log retention task...", "retention", retention, "cutoff", cutoff)
		start := time.Now()

		deleted, err := deps.Store.DeleteLogEntriesBefore(ctx, cutoff)
		duration := time.Since(start)

		if err != nil {
			log.ErrorContext(ctx, "Log retention task failed", "error", err, "duration", duration)
			return fmt.Errorf("log retention failed: %w", err)
		}

		log.InfoContext(ctx, "Log retention task completed", "deleted", deleted, "duration", duration)
		return nil
	}
}
