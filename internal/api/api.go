// Package api serves the dashboard HTTP surface: the data-management
// dispatch endpoint, on-demand reply generation, and the audit log viewer.
// Every route requires a bearer token resolving to a stored user.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/threadpilot/threadpilot/internal/apperr"
	"github.com/threadpilot/threadpilot/internal/auditlog"
	"github.com/threadpilot/threadpilot/internal/database"
	"github.com/threadpilot/threadpilot/internal/gemini"
	"github.com/threadpilot/threadpilot/internal/threads"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "

	userContextKey = "api_user"

	requestTimeout = 10 * time.Second
)

// Handler serves the authenticated dashboard routes.
type Handler struct {
	logger    *slog.Logger
	store     database.Store
	threads   threads.Client
	generator gemini.Generator
	audit     *auditlog.Recorder
}

// NewHandler creates the dashboard API handler.
func NewHandler(
	logger *slog.Logger,
	store database.Store,
	threadsClient threads.Client,
	generator gemini.Generator,
	audit *auditlog.Recorder,
) *Handler {
	return &Handler{
		logger:    logger.With("component", "api"),
		store:     store,
		threads:   threadsClient,
		generator: generator,
		audit:     audit,
	}
}

// Register mounts the dashboard routes behind bearer authentication.
func (h *Handler) Register(r gin.IRouter) {
	group := r.Group("/api", h.authenticate)
	group.POST("/data", h.handleData)
	group.POST("/reply", h.handleReply)
	group.GET("/logs", h.handleLogs)
}

// authenticate resolves the bearer token to a user and aborts with 401
// when the token is missing or unknown. No route distinguishes the two
// cases in its response.
func (h *Handler) authenticate(c *gin.Context) {
	header := c.GetHeader(authHeader)
	if !strings.HasPrefix(header, bearerPrefix) {
		h.abortError(c, apperr.ErrUnauthorized, "missing bearer token")
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		h.abortError(c, apperr.ErrUnauthorized, "missing bearer token")
		return
	}

	user, err := h.store.GetUserByToken(c.Request.Context(), token)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "Token lookup failed", "error", err)
		h.abortError(c, err, "authentication failed")
		return
	}
	if user == nil {
		h.abortError(c, apperr.ErrUnauthorized, "invalid token")
		return
	}

	c.Set(userContextKey, user)
	c.Next()
}

// currentUser returns the authenticated user set by the middleware.
func currentUser(c *gin.Context) *database.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := v.(*database.User)
	return user
}

func (h *Handler) abortError(c *gin.Context, err error, message string) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": message})
}

func (h *Handler) respondError(c *gin.Context, err error, message string) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": message})
}

func (h *Handler) respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}
