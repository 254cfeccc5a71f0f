// Package gemini implements reply generation against Google's Gemini API.
// It builds a deterministic prompt from persona and template data and
// performs exactly one generation call per invocation; retry policy belongs
// to the caller.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/threadpilot/threadpilot/internal/apperr"
	"github.com/threadpilot/threadpilot/internal/config"
	"github.com/threadpilot/threadpilot/internal/database"
)

// Generator defines the reply-generation interface used by the orchestrator
// and the dashboard reply endpoint.
type Generator interface {
	// GenerateReply produces a reply to text in the persona's voice,
	// optionally constrained by a template. A provider failure or an empty
	// candidate is a hard error wrapping apperr.ErrExternalService.
	GenerateReply(ctx context.Context, text string, persona *database.Persona, template *database.Template) (*ReplyResult, error)
}

// ReplyResult carries the generated reply plus generation metadata.
type ReplyResult struct {
	Reply       string
	Model       string
	PersonaName string
	TemplateID  string
}

type sdkClient struct {
	genaiClient   *genai.Client
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	modelName     string
}

// NewClient creates a new Gemini client with the provided configuration.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := cfg.Temperature
	baseCfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized", "model", cfg.Model)
	return &sdkClient{
		genaiClient:   gi,
		log:           logger,
		contentConfig: baseCfg,
		modelName:     cfg.Model,
	}, nil
}

func (c *sdkClient) GenerateReply(ctx context.Context, text string, persona *database.Persona, template *database.Template) (*ReplyResult, error) {
	if persona == nil {
		return nil, fmt.Errorf("persona is required for reply generation")
	}

	prompt := BuildReplyPrompt(text, persona, template)
	c.log.DebugContext(ctx, "Generating reply", "persona", persona.Name, "prompt_len", len(prompt))

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, c.contentConfig)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini API call failed", "persona", persona.Name, "error", err)
		return nil, fmt.Errorf("%w: gemini API call failed: %v", apperr.ErrExternalService, err)
	}

	reply, err := extractText(resp)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini returned no usable reply", "persona", persona.Name, "error", err)
		return nil, fmt.Errorf("%w: %v", apperr.ErrExternalService, err)
	}

	result := &ReplyResult{
		Reply:       reply,
		Model:       c.modelName,
		PersonaName: persona.Name,
	}
	if template != nil {
		result.TemplateID = template.TemplateID
	}
	return result, nil
}

// extractText pulls the candidate text out of a generation response.
// A blocked prompt or an empty candidate is a hard failure carrying the
// provider's own reason for diagnostics.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		return "", fmt.Errorf("generation blocked by safety filter: %s", reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		return "", fmt.Errorf("no response generated, finish reason: %s", finishReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty reply text generated")
	}
	return text, nil
}
