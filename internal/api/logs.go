package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/threadpilot/threadpilot/internal/database"
)

// logView is the JSON shape of one audit record. Nullable columns render
// as absent fields rather than the driver's wrapper structs.
type logView struct {
	ID           string         `json:"id"`
	EventID      string         `json:"event_id"`
	Status       string         `json:"status"`
	Text         string         `json:"text,omitempty"`
	Reply        string         `json:"reply,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Persona      string         `json:"persona,omitempty"`
	TemplateID   string         `json:"template_id,omitempty"`
	ThreadID     string         `json:"thread_id,omitempty"`
	TargetUserID string         `json:"target_user_id,omitempty"`
	LatencyMS    *int64         `json:"latency_ms,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// handleLogs returns the caller's audit entries, newest first. The limit
// query parameter is optional; the store applies its default and cap.
func (h *Handler) handleLogs(c *gin.Context) {
	user := currentUser(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.respondValidation(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	entries, err := h.store.ListLogEntries(ctx, user.ID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list audit entries", "user_id", user.ID, "error", err)
		h.respondError(c, err, "failed to load logs")
		return
	}

	views := make([]logView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toLogView(e))
	}
	h.respondData(c, views)
}

func toLogView(e *database.LogEntry) logView {
	view := logView{
		ID:           e.ID,
		EventID:      e.EventID,
		Status:       e.Status,
		Text:         e.Text.String,
		Reply:        e.Reply.String,
		ErrorMessage: e.ErrorMessage.String,
		Persona:      e.Persona.String,
		TemplateID:   e.TemplateID.String,
		ThreadID:     e.ThreadID.String,
		TargetUserID: e.TargetUserID.String,
		Metadata:     e.Metadata,
		CreatedAt:    e.CreatedAt,
	}
	if e.LatencyMS.Valid {
		v := e.LatencyMS.Int64
		view.LatencyMS = &v
	}
	return view
}
