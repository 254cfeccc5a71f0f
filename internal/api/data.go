package api

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/threadpilot/threadpilot/internal/apperr"
	"github.com/threadpilot/threadpilot/internal/database"
)

// Action is the closed set of operations the data endpoint dispatches on.
type Action string

const (
	ActionSavePersona       Action = "save_persona"
	ActionSaveRule          Action = "save_rule"
	ActionSaveSettings      Action = "save_settings"
	ActionSaveWebhookConfig Action = "save_webhook_config"
	ActionTestConnection    Action = "test_threads_connection"
)

// dataRequest is the envelope for the data endpoint. Exactly the payload
// field matching the action is consulted; others are ignored.
type dataRequest struct {
	Action        Action                `json:"action"`
	Persona       *personaPayload       `json:"persona"`
	Rule          *rulePayload          `json:"rule"`
	Settings      []settingPayload      `json:"settings"`
	WebhookConfig *webhookConfigPayload `json:"webhook_config"`
}

type personaPayload struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Style       string   `json:"style"`
	RecentPosts []string `json:"recent_posts"`
	Active      *bool    `json:"active"`
}

type rulePayload struct {
	ID          string `json:"id"`
	RuleKey     string `json:"rule_key"`
	RuleValue   string `json:"rule_value"`
	Description string `json:"description"`
}

type settingPayload struct {
	SettingKey   string `json:"setting_key"`
	SettingValue string `json:"setting_value"`
	SettingType  string `json:"setting_type"`
}

type webhookConfigPayload struct {
	AppID       string `json:"app_id"`
	CallbackURL string `json:"callback_url"`
	HMACSecret  string `json:"hmac_secret"`
	IsActive    *bool  `json:"is_active"`
}

// handleData dispatches the {action, ...} envelope to the matching
// mutation. Unknown actions are a client error, not a routing miss.
func (h *Handler) handleData(c *gin.Context) {
	user := currentUser(c)

	var req dataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondValidation(c, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	switch req.Action {
	case ActionSavePersona:
		h.savePersona(ctx, c, user, req.Persona)
	case ActionSaveRule:
		h.saveRule(ctx, c, user, req.Rule)
	case ActionSaveSettings:
		h.saveSettings(ctx, c, user, req.Settings)
	case ActionSaveWebhookConfig:
		h.saveWebhookConfig(ctx, c, user, req.WebhookConfig)
	case ActionTestConnection:
		h.testConnection(ctx, c, user)
	default:
		h.logger.WarnContext(ctx, "Unknown data action", "action", req.Action, "user_id", user.ID)
		h.respondValidation(c, "unknown action")
	}
}

func (h *Handler) savePersona(ctx context.Context, c *gin.Context, user *database.User, p *personaPayload) {
	if p == nil || p.Name == "" || p.Style == "" {
		h.respondValidation(c, "persona requires name and style")
		return
	}

	persona := &database.Persona{
		ID:          p.ID,
		UserID:      user.ID,
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Style:       p.Style,
		RecentPosts: database.StringList(p.RecentPosts),
		Active:      boolOrDefault(p.Active, true),
	}
	if err := h.store.UpsertPersona(ctx, persona); err != nil {
		h.logger.ErrorContext(ctx, "Failed to save persona", "user_id", user.ID, "name", p.Name, "error", err)
		h.respondError(c, err, "failed to save persona")
		return
	}

	h.logger.InfoContext(ctx, "Persona saved", "user_id", user.ID, "persona_id", persona.ID, "name", persona.Name)
	h.respondData(c, gin.H{"id": persona.ID})
}

func (h *Handler) saveRule(ctx context.Context, c *gin.Context, user *database.User, r *rulePayload) {
	if r == nil || r.RuleKey == "" || r.RuleValue == "" {
		h.respondValidation(c, "rule requires rule_key and rule_value")
		return
	}

	rule := &database.Rule{
		ID:          r.ID,
		UserID:      user.ID,
		RuleKey:     r.RuleKey,
		RuleValue:   r.RuleValue,
		Description: nullable(r.Description),
	}
	if err := h.store.UpsertRule(ctx, rule); err != nil {
		h.logger.ErrorContext(ctx, "Failed to save rule", "user_id", user.ID, "rule_key", r.RuleKey, "error", err)
		h.respondError(c, err, "failed to save rule")
		return
	}

	h.logger.InfoContext(ctx, "Rule saved", "user_id", user.ID, "rule_id", rule.ID, "rule_key", rule.RuleKey)
	h.respondData(c, gin.H{"id": rule.ID})
}

func (h *Handler) saveSettings(ctx context.Context, c *gin.Context, user *database.User, settings []settingPayload) {
	if len(settings) == 0 {
		h.respondValidation(c, "settings requires at least one entry")
		return
	}
	for _, s := range settings {
		if s.SettingKey == "" {
			h.respondValidation(c, "setting requires setting_key")
			return
		}
	}

	for _, s := range settings {
		setting := &database.Setting{
			UserID:       user.ID,
			SettingKey:   s.SettingKey,
			SettingValue: nullable(s.SettingValue),
			SettingType:  settingTypeOrDefault(s.SettingType),
		}
		if err := h.store.UpsertSetting(ctx, setting); err != nil {
			h.logger.ErrorContext(ctx, "Failed to save setting", "user_id", user.ID, "setting_key", s.SettingKey, "error", err)
			h.respondError(c, err, "failed to save settings")
			return
		}
	}

	h.logger.InfoContext(ctx, "Settings saved", "user_id", user.ID, "count", len(settings))
	h.respondData(c, gin.H{"saved": len(settings)})
}

func (h *Handler) saveWebhookConfig(ctx context.Context, c *gin.Context, user *database.User, w *webhookConfigPayload) {
	if w == nil || w.AppID == "" || w.CallbackURL == "" || w.HMACSecret == "" {
		h.respondValidation(c, "webhook_config requires app_id, callback_url, and hmac_secret")
		return
	}

	cfg := &database.WebhookConfig{
		UserID:      user.ID,
		AppID:       w.AppID,
		CallbackURL: w.CallbackURL,
		HMACSecret:  w.HMACSecret,
		IsActive:    boolOrDefault(w.IsActive, true),
	}
	if err := h.store.UpsertWebhookConfig(ctx, cfg); err != nil {
		h.logger.ErrorContext(ctx, "Failed to save webhook config", "user_id", user.ID, "app_id", w.AppID, "error", err)
		h.respondError(c, err, "failed to save webhook config")
		return
	}

	h.logger.InfoContext(ctx, "Webhook config saved", "user_id", user.ID, "app_id", cfg.AppID, "active", cfg.IsActive)
	h.respondData(c, gin.H{"id": cfg.ID})
}

// testConnection verifies the configured Threads credentials with a live
// profile lookup. The outcome is persisted on the user's webhook config
// and appended to the audit log either way.
func (h *Handler) testConnection(ctx context.Context, c *gin.Context, user *database.User) {
	start := time.Now()
	profile, err := h.threads.GetMe(ctx)
	latency := time.Since(start)

	status := "ok"
	if err != nil {
		status = "failed"
	}
	if recErr := h.store.RecordWebhookTestResult(ctx, user.ID, status, time.Now().UTC()); recErr != nil {
		h.logger.ErrorContext(ctx, "Failed to persist connection test result", "user_id", user.ID, "error", recErr)
	}

	entry := &database.LogEntry{
		UserID:    user.ID,
		EventID:   "connection_test_" + user.ID,
		LatencyMS: sql.NullInt64{Int64: latency.Milliseconds(), Valid: true},
		Metadata:  database.Metadata{"action": "test_threads_connection"},
	}
	if err != nil {
		entry.Status = database.LogStatusError
		entry.ErrorMessage = nullable(err.Error())
		h.audit.Record(ctx, entry)

		h.logger.ErrorContext(ctx, "Threads connection test failed", "user_id", user.ID, "error", err)
		h.respondError(c, err, "connection test failed")
		return
	}

	entry.Status = database.LogStatusSuccess
	entry.TargetUserID = nullable(profile.Username)
	h.audit.Record(ctx, entry)

	h.logger.InfoContext(ctx, "Threads connection test succeeded",
		"user_id", user.ID, "account", profile.Username, "latency", latency)
	h.respondData(c, gin.H{
		"status":     status,
		"account":    profile.Username,
		"threads_id": profile.ID,
	})
}

func (h *Handler) respondValidation(c *gin.Context, message string) {
	h.respondError(c, apperr.ErrValidation, message)
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func settingTypeOrDefault(t string) string {
	if t == "" {
		return "string"
	}
	return t
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
