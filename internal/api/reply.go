package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/threadpilot/threadpilot/internal/apperr"
	"github.com/threadpilot/threadpilot/internal/database"
)

type replyRequest struct {
	Text       string `json:"text"`
	PersonaID  string `json:"persona_id"`
	TemplateID string `json:"template_id"`
}

// handleReply generates one reply on demand for the dashboard's preview
// flow. Unlike webhook-driven replies, failures here surface to the caller
// with the mapped status code; both outcomes are audit-logged.
func (h *Handler) handleReply(c *gin.Context) {
	user := currentUser(c)

	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondValidation(c, "invalid JSON body")
		return
	}
	if req.Text == "" || req.PersonaID == "" {
		h.respondValidation(c, "text and persona_id are required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	persona, err := h.store.GetPersonaByID(ctx, user.ID, req.PersonaID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Persona lookup failed", "user_id", user.ID, "persona_id", req.PersonaID, "error", err)
		h.respondError(c, err, "failed to load persona")
		return
	}
	if persona == nil {
		h.respondError(c, apperr.ErrNotFound, "persona not found")
		return
	}

	var template *database.Template
	if req.TemplateID != "" {
		template, err = h.store.GetTemplate(ctx, user.ID, req.TemplateID)
		if err != nil {
			h.logger.ErrorContext(ctx, "Template lookup failed", "user_id", user.ID, "template_id", req.TemplateID, "error", err)
			h.respondError(c, err, "failed to load template")
			return
		}
		if template == nil {
			h.respondError(c, apperr.ErrNotFound, "template not found")
			return
		}
	}

	eventID := "manual_" + uuid.NewString()
	start := time.Now()
	result, err := h.generator.GenerateReply(ctx, req.Text, persona, template)
	latency := time.Since(start)

	entry := &database.LogEntry{
		UserID:    user.ID,
		EventID:   eventID,
		Text:      nullable(req.Text),
		Persona:   nullable(persona.Name),
		LatencyMS: sql.NullInt64{Int64: latency.Milliseconds(), Valid: true},
		Metadata:  database.Metadata{"action": "manual_reply"},
	}
	if template != nil {
		entry.TemplateID = nullable(template.TemplateID)
	}

	if err != nil {
		entry.Status = database.LogStatusError
		entry.ErrorMessage = nullable(err.Error())
		h.audit.Record(ctx, entry)

		h.logger.ErrorContext(ctx, "Manual reply generation failed",
			"user_id", user.ID, "persona", persona.Name, "error", err)
		h.respondError(c, err, "reply generation failed")
		return
	}

	entry.Status = database.LogStatusSuccess
	entry.Reply = nullable(result.Reply)
	h.audit.Record(ctx, entry)

	h.logger.InfoContext(ctx, "Manual reply generated",
		"user_id", user.ID, "persona", result.PersonaName, "latency", latency)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"reply":   result.Reply,
		"metadata": gin.H{
			"model":       result.Model,
			"persona":     result.PersonaName,
			"template_id": result.TemplateID,
			"latency_ms":  latency.Milliseconds(),
		},
	})
}
