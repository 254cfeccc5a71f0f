// Package threads implements the outbound client for the Threads graph
// API: post context lookups for the auto-reply pipeline and the
// connection test used by the dashboard.
package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/threadpilot/threadpilot/internal/apperr"
	"github.com/threadpilot/threadpilot/internal/config"
)

const maxErrorBodySize = 1024

// Post is the post context fetched for an inbound event.
type Post struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// Profile is the account behind the configured access token.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Client defines the Threads graph API operations used by the application.
type Client interface {
	// GetPost fetches the post context for a media id.
	GetPost(ctx context.Context, postID string) (*Post, error)

	// GetMe fetches the profile of the configured access token, used to
	// test connectivity from the dashboard.
	GetMe(ctx context.Context) (*Profile, error)
}

type httpClient struct {
	http        *http.Client
	log         *slog.Logger
	baseURL     string
	accessToken string
}

// NewClient creates a Threads graph API client with the configured access
// token and request timeout.
func NewClient(cfg config.ThreadsConfig, log *slog.Logger) Client {
	return &httpClient{
		http:        &http.Client{Timeout: cfg.Timeout},
		log:         log.With("component", "threads_client"),
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
	}
}

func (c *httpClient) GetPost(ctx context.Context, postID string) (*Post, error) {
	if postID == "" {
		return nil, fmt.Errorf("post id cannot be empty")
	}

	var post Post
	endpoint := fmt.Sprintf("%s/%s?fields=id,text,username,timestamp&access_token=%s",
		c.baseURL, url.PathEscape(postID), url.QueryEscape(c.accessToken))
	if err := c.getJSON(ctx, endpoint, &post); err != nil {
		return nil, fmt.Errorf("failed to fetch post %s: %w", postID, err)
	}

	c.log.DebugContext(ctx, "Fetched post context", "post_id", post.ID, "username", post.Username)
	return &post, nil
}

func (c *httpClient) GetMe(ctx context.Context) (*Profile, error) {
	var profile Profile
	endpoint := fmt.Sprintf("%s/me?access_token=%s", c.baseURL, url.QueryEscape(c.accessToken))
	if err := c.getJSON(ctx, endpoint, &profile); err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	return &profile, nil
}

func (c *httpClient) getJSON(ctx context.Context, endpoint string, out any) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: threads API request failed: %v", apperr.ErrExternalService, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WarnContext(ctx, "Error closing response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.log.WarnContext(ctx, "Threads API returned non-success status", "status", resp.StatusCode)
		return fmt.Errorf("%w: threads API status %d: %s", apperr.ErrExternalService, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode threads API response: %v", apperr.ErrExternalService, err)
	}

	return nil
}
