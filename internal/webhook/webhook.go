// Package webhook implements the platform-facing delivery endpoint: the
// GET verification handshake and POST event delivery. Deliveries are
// acknowledged immediately and processed asynchronously; processing
// failures never change the response the platform sees.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/threadpilot/threadpilot/internal/autoreply"
	"github.com/threadpilot/threadpilot/internal/config"
	"github.com/threadpilot/threadpilot/internal/database"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="

	maxBodySize = 1 << 20

	secretLookupTimeout = 5 * time.Second
)

// Enqueuer accepts inbound events for asynchronous processing.
type Enqueuer interface {
	Enqueue(event autoreply.InboundEvent) bool
}

// Handler serves the webhook endpoints.
type Handler struct {
	logger      *slog.Logger
	store       database.Store
	orch        Enqueuer
	verifyToken string
	appSecret   string
}

// NewHandler creates a webhook Handler. verifyToken is the static fallback
// used by the GET handshake when no stored webhook config matches;
// appSecret is the platform app secret, accepted for delivery signatures
// alongside the stored per-user secrets.
func NewHandler(logger *slog.Logger, store database.Store, orch Enqueuer, cfg config.WebhookConfig, appSecret string) *Handler {
	return &Handler{
		logger:      logger.With("component", "webhook"),
		store:       store,
		orch:        orch,
		verifyToken: cfg.VerifyToken,
		appSecret:   appSecret,
	}
}

// Register mounts the webhook routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/webhook", h.handleVerify)
	r.POST("/webhook", h.handleDelivery)
}

// handleVerify answers the platform's subscription handshake. The
// challenge is echoed back byte-for-byte as text/plain only when the
// presented verify token matches a stored secret or the configured
// fallback token. hub.mode is optional; when present it must be
// "subscribe".
func (h *Handler) handleVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if challenge == "" || (mode != "" && mode != "subscribe") {
		h.logger.WarnContext(c.Request.Context(), "Malformed verification request", "mode", mode)
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}

	if !h.verifyTokenValid(c.Request.Context(), token) {
		h.logger.WarnContext(c.Request.Context(), "Verification token mismatch")
		c.String(http.StatusForbidden, "Forbidden")
		return
	}

	h.logger.InfoContext(c.Request.Context(), "Webhook verification succeeded")
	c.String(http.StatusOK, "%s", challenge)
}

func (h *Handler) verifyTokenValid(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, secretLookupTimeout)
	defer cancel()

	configs, err := h.store.ListActiveWebhookConfigs(lookupCtx)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to load webhook configs for verification", "error", err)
	}
	for _, wc := range configs {
		if wc.HMACSecret != "" && subtleEqual(wc.HMACSecret, token) {
			return true
		}
	}
	return h.verifyToken != "" && subtleEqual(h.verifyToken, token)
}

func subtleEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// deliveryPayload mirrors the platform's change-notification envelope.
type deliveryPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Time    int64  `json:"time"`
		Changes []struct {
			Field string      `json:"field"`
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	MediaID   string `json:"media_id"`
	Text      string `json:"text"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// handleDelivery ingests a POST delivery. The signature is checked against
// every stored secret before the body is parsed; once the payload is
// accepted the response is always 200 "OK" regardless of what processing
// later does with the events.
func (h *Handler) handleDelivery(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to read delivery body", "error", err)
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}

	valid, err := h.signatureValid(ctx, c.GetHeader(signatureHeader), body)
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !valid {
		h.logger.WarnContext(ctx, "Delivery signature rejected")
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload deliveryPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.WarnContext(ctx, "Malformed delivery payload", "error", err)
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}

	enqueued := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			event, ok := eventFromChange(change.Field, change.Value)
			if !ok {
				h.logger.DebugContext(ctx, "Ignoring unrecognized change", "field", change.Field)
				continue
			}
			if h.orch.Enqueue(event) {
				enqueued++
			}
		}
	}

	h.logger.InfoContext(ctx, "Delivery acknowledged",
		"object", payload.Object, "entries", len(payload.Entry), "enqueued", enqueued)
	c.String(http.StatusOK, "OK")
}

// signatureValid checks the sha256 HMAC header against the platform app
// secret and every stored active secret. Deliveries are accepted unsigned
// only when no secret is configured at all. A store failure is reported
// as an error, distinct from a signature mismatch.
func (h *Handler) signatureValid(ctx context.Context, header string, body []byte) (bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, secretLookupTimeout)
	defer cancel()

	configs, err := h.store.ListActiveWebhookConfigs(lookupCtx)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to load webhook configs for signature check", "error", err)
		return false, err
	}

	secrets := make([]string, 0, len(configs)+1)
	if h.appSecret != "" {
		secrets = append(secrets, h.appSecret)
	}
	for _, wc := range configs {
		if wc.HMACSecret != "" {
			secrets = append(secrets, wc.HMACSecret)
		}
	}
	if len(secrets) == 0 {
		return true, nil
	}

	if !strings.HasPrefix(header, signaturePrefix) {
		return false, nil
	}
	presented, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false, nil
	}

	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		if hmac.Equal(mac.Sum(nil), presented) {
			return true, nil
		}
	}
	return false, nil
}

// eventFromChange maps a recognized change field to an inbound event.
// Only mention and reply notifications that carry a media id are actionable.
func eventFromChange(field string, value changeValue) (autoreply.InboundEvent, bool) {
	var kind autoreply.EventKind
	switch field {
	case "mentions":
		kind = autoreply.EventMention
	case "replies":
		kind = autoreply.EventReply
	default:
		return autoreply.InboundEvent{}, false
	}
	if value.MediaID == "" {
		return autoreply.InboundEvent{}, false
	}
	return autoreply.InboundEvent{
		Kind:      kind,
		PostID:    value.MediaID,
		Text:      value.Text,
		Username:  value.Username,
		Timestamp: value.Timestamp,
	}, true
}
