package webhook_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/threadpilot/threadpilot/internal/autoreply"
	"github.com/threadpilot/threadpilot/internal/config"
	"github.com/threadpilot/threadpilot/internal/database"
	"github.com/threadpilot/threadpilot/internal/webhook"
)

type captureEnqueuer struct {
	mu     sync.Mutex
	events []autoreply.InboundEvent
}

func (c *captureEnqueuer) Enqueue(event autoreply.InboundEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return true
}

func (c *captureEnqueuer) captured() []autoreply.InboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]autoreply.InboundEvent(nil), c.events...)
}

func setupWebhookTest(t *testing.T) (*gin.Engine, database.Store, *captureEnqueuer) {
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

	enq := &captureEnqueuer{}
	h := webhook.NewHandler(log, store, enq, config.WebhookConfig{VerifyToken: "fallback-token"}, "")

	router := gin.New()
	h.Register(router)
	return router, store, enq
}

func addActiveConfig(t *testing.T, store database.Store, secret string) {
	t.Helper()
	cfg := &database.WebhookConfig{
		UserID:      "user-1",
		AppID:       "app-1",
		CallbackURL: "https://example.com/webhook",
		HMACSecret:  secret,
		IsActive:    true,
	}
	if err := store.UpsertWebhookConfig(context.Background(), cfg); err != nil {
		t.Fatalf("Failed to store webhook config: %v", err)
	}
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const mentionDelivery = `{
	"object": "threads",
	"entry": [{
		"id": "acct-1",
		"time": 1756700000,
		"changes": [{
			"field": "mentions",
			"value": {"media_id": "med-42", "text": "hello @pilot", "username": "someone"}
		}]
	}]
}`

func TestVerify_ChallengeEchoedVerbatim(t *testing.T) {
	router, _, _ := setupWebhookTest(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=fallback-token&hub.challenge=1158201444", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "1158201444" {
		t.Errorf("Challenge must be echoed byte-for-byte, got %q", got)
	}
}

func TestVerify_ModeOmitted(t *testing.T) {
	router, _, _ := setupWebhookTest(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet,
		"/webhook?hub.verify_token=fallback-token&hub.challenge=12345", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 without hub.mode, got %d", w.Code)
	}
	if got := w.Body.String(); got != "12345" {
		t.Errorf("Challenge must be echoed byte-for-byte, got %q", got)
	}
}

func TestVerify_StoredSecretAccepted(t *testing.T) {
	router, store, _ := setupWebhookTest(t)
	addActiveConfig(t, store, "stored-secret")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=stored-secret&hub.challenge=xyz", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
}

func TestVerify_Rejections(t *testing.T) {
	router, _, _ := setupWebhookTest(t)

	tests := []struct {
		name     string
		url      string
		expected int
	}{
		{"wrong token", "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=abc", http.StatusForbidden},
		{"missing token", "/webhook?hub.mode=subscribe&hub.challenge=abc", http.StatusForbidden},
		{"wrong mode", "/webhook?hub.mode=unsubscribe&hub.verify_token=fallback-token&hub.challenge=abc", http.StatusBadRequest},
		{"missing challenge", "/webhook?hub.mode=subscribe&hub.verify_token=fallback-token", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
			router.ServeHTTP(w, req)

			if w.Code != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, w.Code)
			}
		})
	}
}

func TestDelivery_EnqueuesRecognizedEvents(t *testing.T) {
	router, _, enq := setupWebhookTest(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(mentionDelivery))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected body OK, got %q", w.Body.String())
	}

	events := enq.captured()
	if len(events) != 1 {
		t.Fatalf("Expected one enqueued event, got %d", len(events))
	}
	if events[0].Kind != autoreply.EventMention || events[0].PostID != "med-42" {
		t.Errorf("Unexpected event %+v", events[0])
	}
}

func TestDelivery_IgnoresUnrecognizedChanges(t *testing.T) {
	router, _, enq := setupWebhookTest(t)

	body := `{"object":"threads","entry":[{"id":"a","changes":[
		{"field":"likes","value":{"media_id":"med-1"}},
		{"field":"replies","value":{"text":"no media id"}}
	]}]}`

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if events := enq.captured(); len(events) != 0 {
		t.Errorf("Expected no enqueued events, got %+v", events)
	}
}

func TestDelivery_MalformedJSON(t *testing.T) {
	router, _, enq := setupWebhookTest(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString("{not json"))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed JSON, got %d", w.Code)
	}
	if events := enq.captured(); len(events) != 0 {
		t.Errorf("Expected no enqueued events, got %+v", events)
	}
}

func TestDelivery_SignatureEnforcedWhenSecretStored(t *testing.T) {
	router, store, enq := setupWebhookTest(t)
	addActiveConfig(t, store, "stored-secret")

	body := []byte(mentionDelivery)

	// Missing signature header.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhook", bytes.NewBuffer(body))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without signature, got %d", w.Code)
	}

	// Signature computed with the wrong secret.
	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/webhook", bytes.NewBuffer(body))
	req.Header.Set("X-Hub-Signature-256", signBody("wrong-secret", body))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong signature, got %d", w.Code)
	}

	// Correct signature.
	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/webhook", bytes.NewBuffer(body))
	req.Header.Set("X-Hub-Signature-256", signBody("stored-secret", body))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with valid signature, got %d", w.Code)
	}

	if events := enq.captured(); len(events) != 1 {
		t.Errorf("Expected exactly the validly signed delivery to enqueue, got %d", len(events))
	}
}

func TestDelivery_AppSecretSignatureAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewStore(db, log)
	enq := &captureEnqueuer{}
	h := webhook.NewHandler(log, store, enq, config.WebhookConfig{}, "platform-app-secret")

	router := gin.New()
	h.Register(router)

	body := []byte(mentionDelivery)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhook", bytes.NewBuffer(body))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 unsigned when an app secret is configured, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/webhook", bytes.NewBuffer(body))
	req.Header.Set("X-Hub-Signature-256", signBody("platform-app-secret", body))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for an app-secret signature, got %d", w.Code)
	}
}

func TestDelivery_SecretLookupFailureIsServerError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewStore(db, log)
	enq := &captureEnqueuer{}
	h := webhook.NewHandler(log, store, enq, config.WebhookConfig{VerifyToken: "fallback-token"}, "")

	router := gin.New()
	h.Register(router)

	// Close the database so the secret lookup fails during delivery.
	database.CloseDB(db)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(mentionDelivery))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 when the secret lookup fails, got %d", w.Code)
	}
	if events := enq.captured(); len(events) != 0 {
		t.Errorf("Expected no enqueued events, got %+v", events)
	}
}
