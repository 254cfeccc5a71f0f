// Package auditlog appends immutable pipeline records to the persistent
// store. A failed append is reported to the process log and never alters
// the pipeline's externally observed result.
package auditlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/threadpilot/threadpilot/internal/database"
)

const writeTimeout = 5 * time.Second

// Recorder appends LogEntry rows on behalf of the pipeline and the
// dashboard handlers.
type Recorder struct {
	store database.Store
	log   *slog.Logger
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(store database.Store, log *slog.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   log.With("component", "auditlog"),
	}
}

// Record appends one entry. Append failures are logged and swallowed:
// audit logging must never abort the pipeline step that produced the
// entry. Duplicate event ids are expected (platform redelivery) and are
// simply another append.
func (r *Recorder) Record(ctx context.Context, entry *database.LogEntry) {
	if entry == nil {
		return
	}

	// The pipeline context may already be cancelled when recording a
	// terminal error; use a detached deadline so the record still lands.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.store.InsertLogEntry(writeCtx, entry); err != nil {
		r.log.ErrorContext(ctx, "Failed to append audit log entry",
			"event_id", entry.EventID, "status", entry.Status, "user_id", entry.UserID, "error", err)
	}
}
