package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SystemUserID is the reserved owner for records produced by unauthenticated
// webhook delivery, before any rule lookup attributes work to a real user.
const SystemUserID = "00000000-0000-0000-0000-000000000000"

// Log entry statuses written by the pipeline.
const (
	LogStatusReceived   = "received"
	LogStatusProcessing = "processing"
	LogStatusSuccess    = "success"
	LogStatusError      = "error"
)

// Rule keys consulted by the auto-reply pipeline.
const (
	RuleKeyAutoReply = "auto_reply"
	RuleKeyKeyword   = "keyword"

	RuleValueEnabled = "enabled"
)

// StringList is a JSON-encoded list of strings stored in a TEXT column.
type StringList []string

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), l)
	case []byte:
		return json.Unmarshal(v, l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal StringList: %w", err)
	}
	return string(b), nil
}

// Metadata is an arbitrary JSON object stored in a TEXT column.
type Metadata map[string]any

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), m)
	case []byte:
		return json.Unmarshal(v, m)
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Metadata: %w", err)
	}
	return string(b), nil
}

// User represents a dashboard account. The API token authenticates
// dashboard requests; webhook delivery is never authenticated as a user.
type User struct {
	ID        string         `db:"id"`
	Email     string         `db:"email"`
	APIToken  sql.NullString `db:"api_token"`
	CreatedAt time.Time      `db:"created_at"`
}

// Persona represents a named AI voice used to flavor generated replies.
// Name is a stable per-user lookup key independent of the row id.
type Persona struct {
	ID          string     `db:"id"`
	UserID      string     `db:"user_id"`
	Name        string     `db:"name"`
	DisplayName string     `db:"display_name"`
	Style       string     `db:"style"`
	RecentPosts StringList `db:"recent_posts"`
	Active      bool       `db:"active"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Rule is a stored key/value toggle controlling auto-reply behavior.
// Rules keyed "auto_reply" with value "enabled" switch the pipeline on for
// their owner; rules keyed "keyword" narrow which inbound posts the owner
// replies to.
type Rule struct {
	ID          string         `db:"id"`
	UserID      string         `db:"user_id"`
	RuleKey     string         `db:"rule_key"`
	RuleValue   string         `db:"rule_value"`
	Description sql.NullString `db:"description"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Template supplies structured constraints merged into the AI prompt.
type Template struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	TemplateID string         `db:"template_id"`
	Persona    string         `db:"persona"`
	Intent     string         `db:"intent"`
	Body       string         `db:"body"`
	CTA        sql.NullString `db:"cta"`
	Hashtags   sql.NullString `db:"hashtags"`
	MinLen     sql.NullInt64  `db:"min_len"`
	MaxLen     sql.NullInt64  `db:"max_len"`
	Active     bool           `db:"active"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// Setting is a typed key/value configuration row owned by one user.
type Setting struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	SettingKey   string         `db:"setting_key"`
	SettingValue sql.NullString `db:"setting_value"`
	SettingType  string         `db:"setting_type"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// WebhookConfig holds the per-user webhook registration: the external app
// id, callback URL, and the shared secret used for the verification
// handshake and delivery signature checks.
type WebhookConfig struct {
	ID          string         `db:"id"`
	UserID      string         `db:"user_id"`
	AppID       string         `db:"app_id"`
	CallbackURL string         `db:"callback_url"`
	HMACSecret  string         `db:"hmac_secret"`
	IsActive    bool           `db:"is_active"`
	LastTestAt  sql.NullTime   `db:"last_test_at"`
	TestStatus  sql.NullString `db:"test_status"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// LogEntry is one immutable audit record of a pipeline step. Entries for a
// single inbound event share an event id prefix so redeliveries and stages
// correlate; the pipeline only ever appends.
type LogEntry struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	EventID      string         `db:"event_id"`
	Status       string         `db:"status"`
	Text         sql.NullString `db:"text"`
	Reply        sql.NullString `db:"reply"`
	ErrorMessage sql.NullString `db:"error_message"`
	Persona      sql.NullString `db:"persona"`
	TemplateID   sql.NullString `db:"template_id"`
	ThreadID     sql.NullString `db:"thread_id"`
	TargetUserID sql.NullString `db:"target_user_id"`
	LatencyMS    sql.NullInt64  `db:"latency_ms"`
	Metadata     Metadata       `db:"metadata"`
	CreatedAt    time.Time      `db:"created_at"`
}
