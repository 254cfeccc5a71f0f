package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/threadpilot/threadpilot/internal/api"
	"github.com/threadpilot/threadpilot/internal/apperr"
	"github.com/threadpilot/threadpilot/internal/auditlog"
	"github.com/threadpilot/threadpilot/internal/database"
	"github.com/threadpilot/threadpilot/internal/gemini"
	"github.com/threadpilot/threadpilot/internal/threads"
)

type stubThreadsClient struct {
	profile *threads.Profile
	err     error
}

func (s *stubThreadsClient) GetPost(_ context.Context, postID string) (*threads.Post, error) {
	return &threads.Post{ID: postID}, nil
}

func (s *stubThreadsClient) GetMe(_ context.Context) (*threads.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.profile, nil
}

type stubGenerator struct {
	err error
}

func (s *stubGenerator) GenerateReply(_ context.Context, _ string, persona *database.Persona, template *database.Template) (*gemini.ReplyResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := &gemini.ReplyResult{
		Reply:       "reply in the voice of " + persona.Name,
		Model:       "test-model",
		PersonaName: persona.Name,
	}
	if template != nil {
		result.TemplateID = template.TemplateID
	}
	return result, nil
}

type apiEnv struct {
	router    *gin.Engine
	store     database.Store
	threads   *stubThreadsClient
	generator *stubGenerator
}

func setupAPITest(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewStore(db, log)

	if _, err := db.Exec(
		`INSERT INTO users (id, email, api_token) VALUES ('user-1', 'one@example.com', 'token-1')`,
	); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}

	tc := &stubThreadsClient{profile: &threads.Profile{ID: "acct-1", Username: "pilot"}}
	gen := &stubGenerator{}
	h := api.NewHandler(log, store, tc, gen, auditlog.NewRecorder(store, log))

	router := gin.New()
	h.Register(router)
	return &apiEnv{router: router, store: store, threads: tc, generator: gen}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal request payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestAuth_MissingOrUnknownToken(t *testing.T) {
	env := setupAPITest(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"unknown token", "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/logs", tt.token, nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", w.Code)
			}
			if body := decodeBody(t, w); body["error"] == nil {
				t.Errorf("Expected error field in body, got %v", body)
			}
		})
	}
}

func TestData_SavePersona(t *testing.T) {
	env := setupAPITest(t)

	w := env.do(t, http.MethodPost, "/api/data", "token-1", map[string]any{
		"action": "save_persona",
		"persona": map[string]any{
			"name":         "casual",
			"display_name": "Casual Voice",
			"style":        "friendly",
			"recent_posts": []string{"a post"},
		},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true {
		t.Errorf("Expected success true, got %v", body)
	}

	personas, err := env.store.ListActivePersonas(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Failed to list personas: %v", err)
	}
	if len(personas) != 1 || personas[0].Name != "casual" {
		t.Errorf("Expected saved persona, got %+v", personas)
	}
}

func TestData_ValidationFailures(t *testing.T) {
	env := setupAPITest(t)

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"unknown action", map[string]any{"action": "drop_tables"}},
		{"persona missing style", map[string]any{"action": "save_persona", "persona": map[string]any{"name": "x"}}},
		{"rule missing value", map[string]any{"action": "save_rule", "rule": map[string]any{"rule_key": "auto_reply"}}},
		{"settings empty", map[string]any{"action": "save_settings", "settings": []any{}}},
		{"webhook config missing secret", map[string]any{
			"action":         "save_webhook_config",
			"webhook_config": map[string]any{"app_id": "a", "callback_url": "https://x"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/data", "token-1", tt.payload)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestData_SaveRuleAndSettings(t *testing.T) {
	env := setupAPITest(t)

	w := env.do(t, http.MethodPost, "/api/data", "token-1", map[string]any{
		"action": "save_rule",
		"rule":   map[string]any{"rule_key": "auto_reply", "rule_value": "enabled"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save_rule failed with %d: %s", w.Code, w.Body.String())
	}

	rules, err := env.store.ListEnabledAutoReplyRules(context.Background())
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("Expected one enabled rule, got %d", len(rules))
	}

	w = env.do(t, http.MethodPost, "/api/data", "token-1", map[string]any{
		"action": "save_settings",
		"settings": []map[string]any{
			{"setting_key": "reply_language", "setting_value": "ja"},
			{"setting_key": "max_daily_replies", "setting_value": "50", "setting_type": "number"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save_settings failed with %d: %s", w.Code, w.Body.String())
	}
}

func TestData_TestThreadsConnection(t *testing.T) {
	env := setupAPITest(t)

	w := env.do(t, http.MethodPost, "/api/data", "token-1", map[string]any{
		"action": "save_webhook_config",
		"webhook_config": map[string]any{
			"app_id":       "app-1",
			"callback_url": "https://example.com/webhook",
			"hmac_secret":  "secret-1",
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save_webhook_config failed with %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/data", "token-1", map[string]any{"action": "test_threads_connection"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	data, _ := body["data"].(map[string]any)
	if data["account"] != "pilot" {
		t.Errorf("Expected account pilot, got %v", body)
	}

	configs, err := env.store.ListActiveWebhookConfigs(context.Background())
	if err != nil {
		t.Fatalf("Failed to list configs: %v", err)
	}
	if len(configs) != 1 || !configs[0].TestStatus.Valid || configs[0].TestStatus.String != "ok" {
		t.Errorf("Expected persisted test status ok, got %+v", configs)
	}
}

func TestData_TestThreadsConnectionFailure(t *testing.T) {
	env := setupAPITest(t)
	env.threads.err = errors.New("network unreachable")

	w := env.do(t, http.MethodPost, "/api/data", "token-1", map[string]any{"action": "test_threads_connection"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestReply_HappyPath(t *testing.T) {
	env := setupAPITest(t)

	persona := &database.Persona{UserID: "user-1", Name: "casual", DisplayName: "Casual", Style: "warm", Active: true}
	if err := env.store.UpsertPersona(context.Background(), persona); err != nil {
		t.Fatalf("Failed to seed persona: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/reply", "token-1", map[string]any{
		"text":       "what do you think about this?",
		"persona_id": persona.ID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["reply"] != "reply in the voice of casual" {
		t.Errorf("Unexpected reply %v", body["reply"])
	}
	meta, _ := body["metadata"].(map[string]any)
	if meta["persona"] != "casual" || meta["model"] != "test-model" {
		t.Errorf("Unexpected metadata %v", meta)
	}

	entries, err := env.store.ListLogEntries(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("Failed to list log entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != database.LogStatusSuccess {
		t.Errorf("Expected one success audit entry, got %+v", entries)
	}
}

func TestReply_Failures(t *testing.T) {
	env := setupAPITest(t)

	persona := &database.Persona{UserID: "user-1", Name: "casual", DisplayName: "Casual", Style: "warm", Active: true}
	if err := env.store.UpsertPersona(context.Background(), persona); err != nil {
		t.Fatalf("Failed to seed persona: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/reply", "token-1", map[string]any{"persona_id": persona.ID})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing text, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/reply", "token-1", map[string]any{
		"text": "hi", "persona_id": "no-such-persona",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown persona, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/reply", "token-1", map[string]any{
		"text": "hi", "persona_id": persona.ID, "template_id": "missing-template",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown template, got %d", w.Code)
	}

	env.generator.err = apperr.ErrExternalService
	w = env.do(t, http.MethodPost, "/api/reply", "token-1", map[string]any{
		"text": "hi", "persona_id": persona.ID,
	})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for generation failure, got %d", w.Code)
	}

	entries, err := env.store.ListLogEntries(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("Failed to list log entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != database.LogStatusError {
		t.Errorf("Expected one error audit entry from the failed generation, got %+v", entries)
	}
}

func TestLogs_ListingAndLimit(t *testing.T) {
	env := setupAPITest(t)

	for _, eventID := range []string{"mention_1", "mention_2", "mention_3"} {
		entry := &database.LogEntry{UserID: "user-1", EventID: eventID, Status: database.LogStatusSuccess}
		if err := env.store.InsertLogEntry(context.Background(), entry); err != nil {
			t.Fatalf("Failed to seed log entry: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/logs", "token-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	data, _ := body["data"].([]any)
	if len(data) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(data))
	}

	w = env.do(t, http.MethodGet, "/api/logs?limit=2", "token-1", nil)
	body = decodeBody(t, w)
	data, _ = body["data"].([]any)
	if len(data) != 2 {
		t.Errorf("Expected 2 entries with limit, got %d", len(data))
	}

	w = env.do(t, http.MethodGet, "/api/logs?limit=abc", "token-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-numeric limit, got %d", w.Code)
	}
}
