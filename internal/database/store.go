package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts. All reads
// and writes are scoped by owning user id; log writes are append-only.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetUserByToken resolves a dashboard API token to its user.
	// Returns nil, nil if no user carries the token.
	GetUserByToken(ctx context.Context, token string) (*User, error)

	// UpsertPersona inserts or updates a persona. Existing rows are matched
	// by id when set, otherwise by the (user_id, name) natural key.
	UpsertPersona(ctx context.Context, persona *Persona) error

	// GetPersonaByID retrieves one of the user's personas by row id.
	// Returns nil, nil if not found or owned by another user.
	GetPersonaByID(ctx context.Context, userID, personaID string) (*Persona, error)

	// ListActivePersonas returns the user's active personas ordered by
	// created_at then id, so "first persona" selection is deterministic.
	ListActivePersonas(ctx context.Context, userID string) ([]*Persona, error)

	// UpsertRule inserts or updates a rule row by id.
	UpsertRule(ctx context.Context, rule *Rule) error

	// ListEnabledAutoReplyRules returns every rule across all users with
	// key "auto_reply" and value "enabled".
	ListEnabledAutoReplyRules(ctx context.Context) ([]*Rule, error)

	// ListKeywordRules returns the user's rules with key "keyword".
	ListKeywordRules(ctx context.Context, userID string) ([]*Rule, error)

	// UpsertTemplate inserts or updates a template, matched by id when set,
	// otherwise by the (user_id, template_id) natural key.
	UpsertTemplate(ctx context.Context, template *Template) error

	// GetTemplate retrieves one of the user's templates by its external
	// template id. Returns nil, nil if not found.
	GetTemplate(ctx context.Context, userID, templateID string) (*Template, error)

	// UpsertSetting inserts or updates a setting by (user_id, setting_key).
	UpsertSetting(ctx context.Context, setting *Setting) error

	// UpsertWebhookConfig inserts or updates a webhook configuration,
	// matched by id when set, otherwise by (user_id, app_id).
	UpsertWebhookConfig(ctx context.Context, cfg *WebhookConfig) error

	// ListActiveWebhookConfigs returns every active webhook configuration
	// across all users, used for handshake and signature verification.
	ListActiveWebhookConfigs(ctx context.Context) ([]*WebhookConfig, error)

	// RecordWebhookTestResult stores the outcome of a connection test on
	// the user's webhook configurations.
	RecordWebhookTestResult(ctx context.Context, userID, status string, at time.Time) error

	// InsertLogEntry appends one audit record. Duplicate event ids are
	// ordinary appends; rows are never updated or deleted here.
	InsertLogEntry(ctx context.Context, entry *LogEntry) error

	// ListLogEntries returns the user's most recent audit records.
	ListLogEntries(ctx context.Context, userID string, limit int) ([]*LogEntry, error)

	// DeleteLogEntriesBefore prunes audit records older than cutoff.
	// Used only by the scheduled retention task, never by the pipeline.
	DeleteLogEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetUserByToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var user User
	query := `SELECT id, email, api_token, created_at FROM users WHERE api_token = ?`

	err := s.db.GetContext(ctx, &user, query, token)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error resolving API token", "error", err)
		return nil, fmt.Errorf("failed to resolve API token: %w", err)
	}

	return &user, nil
}

func (s *sqlxStore) UpsertPersona(ctx context.Context, persona *Persona) error {
	if persona == nil {
		return fmt.Errorf("cannot save nil persona")
	}
	if persona.UserID == "" {
		return fmt.Errorf("persona must have an owning user id")
	}
	if persona.Name == "" {
		return fmt.Errorf("persona must have a non-empty name")
	}

	now := time.Now().UTC()
	persona.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, &tx)

	existingID, err := s.findPersonaID(ctx, tx, persona)
	if err != nil {
		return err
	}

	if existingID == "" {
		if persona.ID == "" {
			persona.ID = uuid.NewString()
		}
		persona.CreatedAt = now
		query := `
			INSERT INTO personas (id, user_id, name, display_name, style, recent_posts, active, created_at, updated_at)
			VALUES (:id, :user_id, :name, :display_name, :style, :recent_posts, :active, :created_at, :updated_at)
		`
		if _, err := tx.NamedExecContext(ctx, query, persona); err != nil {
			s.logger.ErrorContext(ctx, "Error inserting persona", "user_id", persona.UserID, "name", persona.Name, "error", err)
			return fmt.Errorf("failed to insert persona %q: %w", persona.Name, err)
		}
	} else {
		persona.ID = existingID
		query := `
			UPDATE personas SET
				name = :name,
				display_name = :display_name,
				style = :style,
				recent_posts = :recent_posts,
				active = :active,
				updated_at = :updated_at
			WHERE id = :id AND user_id = :user_id
		`
		if _, err := tx.NamedExecContext(ctx, query, persona); err != nil {
			s.logger.ErrorContext(ctx, "Error updating persona", "user_id", persona.UserID, "name", persona.Name, "error", err)
			return fmt.Errorf("failed to update persona %q: %w", persona.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Persona saved", "user_id", persona.UserID, "name", persona.Name, "persona_id", persona.ID)
	return nil
}

func (s *sqlxStore) findPersonaID(ctx context.Context, tx *sqlx.Tx, persona *Persona) (string, error) {
	var id string
	var err error
	if persona.ID != "" {
		err = tx.GetContext(ctx, &id, `SELECT id FROM personas WHERE id = ? AND user_id = ?`, persona.ID, persona.UserID)
	} else {
		err = tx.GetContext(ctx, &id, `SELECT id FROM personas WHERE user_id = ? AND name = ?`, persona.UserID, persona.Name)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to check for existing persona: %w", err)
	}
	return id, nil
}

func (s *sqlxStore) GetPersonaByID(ctx context.Context, userID, personaID string) (*Persona, error) {
	if userID == "" || personaID == "" {
		return nil, fmt.Errorf("user id and persona id are required")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var persona Persona
	query := `
		SELECT id, user_id, name, display_name, style, recent_posts, active, created_at, updated_at
		FROM personas
		WHERE id = ? AND user_id = ?
	`

	err := s.db.GetContext(ctx, &persona, query, personaID, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "Persona not found", "user_id", userID, "persona_id", personaID)
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting persona", "user_id", userID, "persona_id", personaID, "error", err)
		return nil, fmt.Errorf("failed to get persona %s: %w", personaID, err)
	}

	return &persona, nil
}

func (s *sqlxStore) ListActivePersonas(ctx context.Context, userID string) ([]*Persona, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var personas []*Persona
	// Ordering makes "first active persona" selection deterministic:
	// earliest created wins, row id breaks creation-time ties.
	query := `
		SELECT id, user_id, name, display_name, style, recent_posts, active, created_at, updated_at
		FROM personas
		WHERE user_id = ? AND active = 1
		ORDER BY created_at ASC, id ASC
	`

	if err := s.db.SelectContext(ctx, &personas, query, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error listing active personas", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list active personas for user %s: %w", userID, err)
	}

	return personas, nil
}

func (s *sqlxStore) UpsertRule(ctx context.Context, rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("cannot save nil rule")
	}
	if rule.UserID == "" {
		return fmt.Errorf("rule must have an owning user id")
	}
	if rule.RuleKey == "" || rule.RuleValue == "" {
		return fmt.Errorf("rule must have a non-empty key and value")
	}

	now := time.Now().UTC()
	rule.UpdatedAt = now

	if rule.ID == "" {
		rule.ID = uuid.NewString()
		rule.CreatedAt = now
		query := `
			INSERT INTO rules (id, user_id, rule_key, rule_value, description, created_at, updated_at)
			VALUES (:id, :user_id, :rule_key, :rule_value, :description, :created_at, :updated_at)
		`
		if _, err := s.db.NamedExecContext(ctx, query, rule); err != nil {
			s.logger.ErrorContext(ctx, "Error inserting rule", "user_id", rule.UserID, "rule_key", rule.RuleKey, "error", err)
			return fmt.Errorf("failed to insert rule %q: %w", rule.RuleKey, err)
		}
		s.logger.DebugContext(ctx, "Rule created", "user_id", rule.UserID, "rule_key", rule.RuleKey, "rule_id", rule.ID)
		return nil
	}

	query := `
		UPDATE rules SET
			rule_key = :rule_key,
			rule_value = :rule_value,
			description = :description,
			updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id
	`
	result, err := s.db.NamedExecContext(ctx, query, rule)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating rule", "user_id", rule.UserID, "rule_id", rule.ID, "error", err)
		return fmt.Errorf("failed to update rule %s: %w", rule.ID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("rule %s not found for user %s", rule.ID, rule.UserID)
	}

	s.logger.DebugContext(ctx, "Rule updated", "user_id", rule.UserID, "rule_id", rule.ID)
	return nil
}

func (s *sqlxStore) ListEnabledAutoReplyRules(ctx context.Context) ([]*Rule, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var rules []*Rule
	query := `
		SELECT id, user_id, rule_key, rule_value, description, created_at, updated_at
		FROM rules
		WHERE rule_key = ? AND rule_value = ?
		ORDER BY created_at ASC, id ASC
	`

	if err := s.db.SelectContext(ctx, &rules, query, RuleKeyAutoReply, RuleValueEnabled); err != nil {
		s.logger.ErrorContext(ctx, "Error listing enabled auto-reply rules", "error", err)
		return nil, fmt.Errorf("failed to list enabled auto-reply rules: %w", err)
	}

	return rules, nil
}

func (s *sqlxStore) ListKeywordRules(ctx context.Context, userID string) ([]*Rule, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var rules []*Rule
	query := `
		SELECT id, user_id, rule_key, rule_value, description, created_at, updated_at
		FROM rules
		WHERE user_id = ? AND rule_key = ?
		ORDER BY created_at ASC, id ASC
	`

	if err := s.db.SelectContext(ctx, &rules, query, userID, RuleKeyKeyword); err != nil {
		s.logger.ErrorContext(ctx, "Error listing keyword rules", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list keyword rules for user %s: %w", userID, err)
	}

	return rules, nil
}

func (s *sqlxStore) UpsertTemplate(ctx context.Context, template *Template) error {
	if template == nil {
		return fmt.Errorf("cannot save nil template")
	}
	if template.UserID == "" {
		return fmt.Errorf("template must have an owning user id")
	}
	if template.TemplateID == "" || template.Body == "" {
		return fmt.Errorf("template must have a non-empty template id and body")
	}

	now := time.Now().UTC()
	template.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, &tx)

	var existingID string
	if template.ID != "" {
		err = tx.GetContext(ctx, &existingID, `SELECT id FROM templates WHERE id = ? AND user_id = ?`, template.ID, template.UserID)
	} else {
		err = tx.GetContext(ctx, &existingID, `SELECT id FROM templates WHERE user_id = ? AND template_id = ?`, template.UserID, template.TemplateID)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for existing template: %w", err)
	}

	if existingID == "" {
		if template.ID == "" {
			template.ID = uuid.NewString()
		}
		template.CreatedAt = now
		query := `
			INSERT INTO templates (id, user_id, template_id, persona, intent, body, cta, hashtags, min_len, max_len, active, created_at, updated_at)
			VALUES (:id, :user_id, :template_id, :persona, :intent, :body, :cta, :hashtags, :min_len, :max_len, :active, :created_at, :updated_at)
		`
		if _, err := tx.NamedExecContext(ctx, query, template); err != nil {
			s.logger.ErrorContext(ctx, "Error inserting template", "user_id", template.UserID, "template_id", template.TemplateID, "error", err)
			return fmt.Errorf("failed to insert template %q: %w", template.TemplateID, err)
		}
	} else {
		template.ID = existingID
		query := `
			UPDATE templates SET
				template_id = :template_id,
				persona = :persona,
				intent = :intent,
				body = :body,
				cta = :cta,
				hashtags = :hashtags,
				min_len = :min_len,
				max_len = :max_len,
				active = :active,
				updated_at = :updated_at
			WHERE id = :id AND user_id = :user_id
		`
		if _, err := tx.NamedExecContext(ctx, query, template); err != nil {
			s.logger.ErrorContext(ctx, "Error updating template", "user_id", template.UserID, "template_id", template.TemplateID, "error", err)
			return fmt.Errorf("failed to update template %q: %w", template.TemplateID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Template saved", "user_id", template.UserID, "template_id", template.TemplateID)
	return nil
}

func (s *sqlxStore) GetTemplate(ctx context.Context, userID, templateID string) (*Template, error) {
	if userID == "" || templateID == "" {
		return nil, fmt.Errorf("user id and template id are required")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var template Template
	query := `
		SELECT id, user_id, template_id, persona, intent, body, cta, hashtags, min_len, max_len, active, created_at, updated_at
		FROM templates
		WHERE user_id = ? AND template_id = ?
	`

	err := s.db.GetContext(ctx, &template, query, userID, templateID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "Template not found", "user_id", userID, "template_id", templateID)
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting template", "user_id", userID, "template_id", templateID, "error", err)
		return nil, fmt.Errorf("failed to get template %s: %w", templateID, err)
	}

	return &template, nil
}

func (s *sqlxStore) UpsertSetting(ctx context.Context, setting *Setting) error {
	if setting == nil {
		return fmt.Errorf("cannot save nil setting")
	}
	if setting.UserID == "" {
		return fmt.Errorf("setting must have an owning user id")
	}
	if setting.SettingKey == "" {
		return fmt.Errorf("setting must have a non-empty key")
	}
	if setting.SettingType == "" {
		setting.SettingType = "string"
	}

	now := time.Now().UTC()
	setting.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, &tx)

	var existingID string
	err = tx.GetContext(ctx, &existingID, `SELECT id FROM settings WHERE user_id = ? AND setting_key = ?`, setting.UserID, setting.SettingKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for existing setting: %w", err)
	}

	if existingID == "" {
		setting.ID = uuid.NewString()
		setting.CreatedAt = now
		query := `
			INSERT INTO settings (id, user_id, setting_key, setting_value, setting_type, created_at, updated_at)
			VALUES (:id, :user_id, :setting_key, :setting_value, :setting_type, :created_at, :updated_at)
		`
		if _, err := tx.NamedExecContext(ctx, query, setting); err != nil {
			s.logger.ErrorContext(ctx, "Error inserting setting", "user_id", setting.UserID, "setting_key", setting.SettingKey, "error", err)
			return fmt.Errorf("failed to insert setting %q: %w", setting.SettingKey, err)
		}
	} else {
		setting.ID = existingID
		query := `
			UPDATE settings SET
				setting_value = :setting_value,
				setting_type = :setting_type,
				updated_at = :updated_at
			WHERE id = :id AND user_id = :user_id
		`
		if _, err := tx.NamedExecContext(ctx, query, setting); err != nil {
			s.logger.ErrorContext(ctx, "Error updating setting", "user_id", setting.UserID, "setting_key", setting.SettingKey, "error", err)
			return fmt.Errorf("failed to update setting %q: %w", setting.SettingKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Setting saved", "user_id", setting.UserID, "setting_key", setting.SettingKey)
	return nil
}

func (s *sqlxStore) UpsertWebhookConfig(ctx context.Context, cfg *WebhookConfig) error {
	if cfg == nil {
		return fmt.Errorf("cannot save nil webhook config")
	}
	if cfg.UserID == "" {
		return fmt.Errorf("webhook config must have an owning user id")
	}
	if cfg.AppID == "" || cfg.HMACSecret == "" {
		return fmt.Errorf("webhook config must have a non-empty app id and secret")
	}

	now := time.Now().UTC()
	cfg.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, &tx)

	var existingID string
	if cfg.ID != "" {
		err = tx.GetContext(ctx, &existingID, `SELECT id FROM webhook_configs WHERE id = ? AND user_id = ?`, cfg.ID, cfg.UserID)
	} else {
		err = tx.GetContext(ctx, &existingID, `SELECT id FROM webhook_configs WHERE user_id = ? AND app_id = ?`, cfg.UserID, cfg.AppID)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for existing webhook config: %w", err)
	}

	if existingID == "" {
		if cfg.ID == "" {
			cfg.ID = uuid.NewString()
		}
		cfg.CreatedAt = now
		query := `
			INSERT INTO webhook_configs (id, user_id, app_id, callback_url, hmac_secret, is_active, last_test_at, test_status, created_at, updated_at)
			VALUES (:id, :user_id, :app_id, :callback_url, :hmac_secret, :is_active, :last_test_at, :test_status, :created_at, :updated_at)
		`
		if _, err := tx.NamedExecContext(ctx, query, cfg); err != nil {
			s.logger.ErrorContext(ctx, "Error inserting webhook config", "user_id", cfg.UserID, "app_id", cfg.AppID, "error", err)
			return fmt.Errorf("failed to insert webhook config for app %q: %w", cfg.AppID, err)
		}
	} else {
		cfg.ID = existingID
		query := `
			UPDATE webhook_configs SET
				app_id = :app_id,
				callback_url = :callback_url,
				hmac_secret = :hmac_secret,
				is_active = :is_active,
				updated_at = :updated_at
			WHERE id = :id AND user_id = :user_id
		`
		if _, err := tx.NamedExecContext(ctx, query, cfg); err != nil {
			s.logger.ErrorContext(ctx, "Error updating webhook config", "user_id", cfg.UserID, "app_id", cfg.AppID, "error", err)
			return fmt.Errorf("failed to update webhook config for app %q: %w", cfg.AppID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Webhook config saved", "user_id", cfg.UserID, "app_id", cfg.AppID)
	return nil
}

func (s *sqlxStore) ListActiveWebhookConfigs(ctx context.Context) ([]*WebhookConfig, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var configs []*WebhookConfig
	query := `
		SELECT id, user_id, app_id, callback_url, hmac_secret, is_active, last_test_at, test_status, created_at, updated_at
		FROM webhook_configs
		WHERE is_active = 1
		ORDER BY created_at ASC, id ASC
	`

	if err := s.db.SelectContext(ctx, &configs, query); err != nil {
		s.logger.ErrorContext(ctx, "Error listing active webhook configs", "error", err)
		return nil, fmt.Errorf("failed to list active webhook configs: %w", err)
	}

	return configs, nil
}

func (s *sqlxStore) RecordWebhookTestResult(ctx context.Context, userID, status string, at time.Time) error {
	if userID == "" || status == "" {
		return fmt.Errorf("user id and status are required")
	}

	query := `UPDATE webhook_configs SET test_status = ?, last_test_at = ?, updated_at = ? WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, status, at.UTC(), time.Now().UTC(), userID); err != nil {
		s.logger.ErrorContext(ctx, "Error recording webhook test result", "user_id", userID, "error", err)
		return fmt.Errorf("failed to record webhook test result for user %s: %w", userID, err)
	}

	return nil
}

func (s *sqlxStore) InsertLogEntry(ctx context.Context, entry *LogEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot insert nil log entry")
	}
	if entry.UserID == "" {
		return fmt.Errorf("log entry must have an owning user id")
	}
	if entry.EventID == "" {
		return fmt.Errorf("log entry must have a non-empty event id")
	}
	if entry.Status == "" {
		return fmt.Errorf("log entry must have a non-empty status")
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO logs (id, user_id, event_id, status, text, reply, error_message, persona, template_id, thread_id, target_user_id, latency_ms, metadata, created_at)
		VALUES (:id, :user_id, :event_id, :status, :text, :reply, :error_message, :persona, :template_id, :thread_id, :target_user_id, :latency_ms, :metadata, :created_at)
	`

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		s.logger.ErrorContext(ctx, "Error inserting log entry", "user_id", entry.UserID, "event_id", entry.EventID, "error", err)
		return fmt.Errorf("failed to insert log entry %s: %w", entry.EventID, err)
	}

	return nil
}

func (s *sqlxStore) ListLogEntries(ctx context.Context, userID string, limit int) ([]*LogEntry, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	if limit <= 0 {
		limit = 50
	} else if limit > 500 {
		limit = 500
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var entries []*LogEntry
	query := `
		SELECT id, user_id, event_id, status, text, reply, error_message, persona, template_id, thread_id, target_user_id, latency_ms, metadata, created_at
		FROM logs
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	if err := s.db.SelectContext(ctx, &entries, query, userID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing log entries", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list log entries for user %s: %w", userID, err)
	}

	return entries, nil
}

func (s *sqlxStore) DeleteLogEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning old log entries", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to prune log entries before %s: %w", cutoff, err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Pruned old log entries", "cutoff", cutoff, "count", count)
	return count, nil
}

func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed")
	return nil
}

// rollback rolls the transaction back unless it was committed (committed
// transactions are set to nil by the caller).
func (s *sqlxStore) rollback(ctx context.Context, tx **sqlx.Tx) {
	if *tx == nil {
		return
	}
	if err := (*tx).Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.WarnContext(ctx, "Error rolling back transaction", "error", err)
	}
}
