// Package autoreply turns inbound webhook events into generated replies
// with a full audit trail. Events are consumed from an in-process queue so
// the webhook response never waits on AI latency; every outcome, success
// or failure, lands in the audit log and nothing propagates back to the
// platform caller.
package autoreply

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/threadpilot/threadpilot/internal/auditlog"
	"github.com/threadpilot/threadpilot/internal/database"
	"github.com/threadpilot/threadpilot/internal/gemini"
	"github.com/threadpilot/threadpilot/internal/threads"
)

const dbTimeout = 5 * time.Second

// Orchestrator consumes InboundEvents and produces zero or one generated
// reply per (event, matching user) pair.
type Orchestrator struct {
	logger    *slog.Logger
	store     database.Store
	threads   threads.Client
	generator gemini.Generator
	audit     *auditlog.Recorder
	queue     chan InboundEvent
	workers   int
	aiTimeout time.Duration
}

// New creates an Orchestrator with a bounded event queue.
func New(
	logger *slog.Logger,
	store database.Store,
	threadsClient threads.Client,
	generator gemini.Generator,
	audit *auditlog.Recorder,
	queueSize int,
	workers int,
	aiTimeout time.Duration,
) *Orchestrator {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &Orchestrator{
		logger:    logger.With("component", "autoreply"),
		store:     store,
		threads:   threadsClient,
		generator: generator,
		audit:     audit,
		queue:     make(chan InboundEvent, queueSize),
		workers:   workers,
		aiTimeout: aiTimeout,
	}
}

// Enqueue hands an event to the worker pool without blocking the caller.
// A full queue drops the event and reports false; the webhook handler
// still acknowledges the delivery, so the drop is visible only in logs.
func (o *Orchestrator) Enqueue(event InboundEvent) bool {
	select {
	case o.queue <- event:
		return true
	default:
		o.logger.Error("Event queue full, dropping inbound event",
			"kind", event.Kind, "post_id", event.PostID)
		return false
	}
}

// Run consumes the queue with the configured number of workers until the
// context is cancelled. Each event is processed independently; a failure
// in one never stops the pool.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("Starting auto-reply workers", "workers", o.workers, "queue_cap", cap(o.queue))

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < o.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gCtx.Done():
					return nil
				case event := <-o.queue:
					o.processEvent(gCtx, event)
				}
			}
		})
	}

	err := g.Wait()
	o.logger.Info("Auto-reply workers stopped.")
	return err
}

// processEvent executes the pipeline for one inbound event:
// fetch post context, record receipt, resolve enabled rules, then fan out
// per matching user. Steps for a single event run strictly in this order;
// matching users run concurrently and isolated from each other.
func (o *Orchestrator) processEvent(ctx context.Context, event InboundEvent) {
	log := o.logger.With("event_id", event.CorrelationID(), "kind", event.Kind)
	corrID := event.CorrelationID()

	post, err := o.fetchPostContext(ctx, event)
	if err != nil {
		log.ErrorContext(ctx, "Failed to fetch post context", "post_id", event.PostID, "error", err)
		o.audit.Record(ctx, &database.LogEntry{
			UserID:       database.SystemUserID,
			EventID:      corrID,
			Status:       database.LogStatusError,
			ErrorMessage: nullString(err.Error()),
			ThreadID:     nullString(event.PostID),
			Metadata:     database.Metadata{"action": "fetch_post_context"},
		})
		return
	}

	o.audit.Record(ctx, &database.LogEntry{
		UserID:       database.SystemUserID,
		EventID:      corrID,
		Status:       database.LogStatusReceived,
		Text:         nullString(post.Text),
		ThreadID:     nullString(event.PostID),
		TargetUserID: nullString(post.Username),
		Metadata:     database.Metadata{"action": string(event.Kind) + "_received"},
	})

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	rules, err := o.store.ListEnabledAutoReplyRules(dbCtx)
	cancel()
	if err != nil {
		log.ErrorContext(ctx, "Failed to resolve auto-reply rules", "error", err)
		o.audit.Record(ctx, &database.LogEntry{
			UserID:       database.SystemUserID,
			EventID:      corrID,
			Status:       database.LogStatusError,
			ErrorMessage: nullString(err.Error()),
			ThreadID:     nullString(event.PostID),
			Metadata:     database.Metadata{"action": "resolve_rules"},
		})
		return
	}
	if len(rules) == 0 {
		log.DebugContext(ctx, "No active auto-reply rules, ignoring event")
		return
	}

	var wg sync.WaitGroup
	for _, userID := range ruleOwners(rules) {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			o.replyForUser(ctx, corrID, userID, post)
		}(userID)
	}
	wg.Wait()
}

// fetchPostContext resolves the full post for the event's media id. The
// payload's own text is only a fallback used when the event carries text
// but the graph lookup is unnecessary context (never the case today).
func (o *Orchestrator) fetchPostContext(ctx context.Context, event InboundEvent) (*threads.Post, error) {
	post, err := o.threads.GetPost(ctx, event.PostID)
	if err != nil {
		return nil, err
	}
	if post.Text == "" {
		post.Text = event.Text
	}
	if post.Username == "" {
		post.Username = event.Username
	}
	return post, nil
}

// replyForUser runs the per-user half of the pipeline: keyword narrowing,
// persona selection, generation, outcome record. Failures here are logged
// against the user and never affect other users' replies.
func (o *Orchestrator) replyForUser(ctx context.Context, corrID, userID string, post *threads.Post) {
	log := o.logger.With("event_id", corrID, "user_id", userID)
	eventID := corrID + "_" + userID

	matched, err := o.matchesKeywordRules(ctx, userID, post.Text)
	if err != nil {
		log.ErrorContext(ctx, "Failed to evaluate keyword rules", "error", err)
		o.recordUserError(ctx, eventID, userID, post, "evaluate_keywords", err)
		return
	}
	if !matched {
		log.DebugContext(ctx, "No keyword rule matched, skipping user")
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	personas, err := o.store.ListActivePersonas(dbCtx, userID)
	cancel()
	if err != nil {
		log.ErrorContext(ctx, "Failed to list active personas", "error", err)
		o.recordUserError(ctx, eventID, userID, post, "resolve_persona", err)
		return
	}
	if len(personas) == 0 {
		log.DebugContext(ctx, "User has no active persona, skipping")
		return
	}

	// Personas arrive ordered by created_at then id; the earliest created
	// active persona speaks for the user.
	persona := personas[0]

	o.audit.Record(ctx, &database.LogEntry{
		UserID:       userID,
		EventID:      eventID,
		Status:       database.LogStatusProcessing,
		Text:         nullString(post.Text),
		Persona:      nullString(persona.Name),
		ThreadID:     nullString(post.ID),
		TargetUserID: nullString(post.Username),
		Metadata:     database.Metadata{"action": "auto_reply_generation_started"},
	})

	aiCtx, cancel := context.WithTimeout(ctx, o.aiTimeout)
	defer cancel()

	start := time.Now()
	result, err := o.generator.GenerateReply(aiCtx, post.Text, persona, nil)
	latency := time.Since(start)

	if err != nil {
		log.ErrorContext(ctx, "Reply generation failed", "persona", persona.Name, "error", err)
		o.audit.Record(ctx, &database.LogEntry{
			UserID:       userID,
			EventID:      eventID,
			Status:       database.LogStatusError,
			Text:         nullString(post.Text),
			ErrorMessage: nullString(err.Error()),
			Persona:      nullString(persona.Name),
			ThreadID:     nullString(post.ID),
			TargetUserID: nullString(post.Username),
			LatencyMS:    nullInt64(latency.Milliseconds()),
			Metadata:     database.Metadata{"action": "auto_reply_generated"},
		})
		return
	}

	log.InfoContext(ctx, "Auto-reply generated", "persona", persona.Name, "latency", latency)
	o.audit.Record(ctx, &database.LogEntry{
		UserID:       userID,
		EventID:      eventID,
		Status:       database.LogStatusSuccess,
		Text:         nullString(post.Text),
		Reply:        nullString(result.Reply),
		Persona:      nullString(result.PersonaName),
		TemplateID:   nullString(result.TemplateID),
		ThreadID:     nullString(post.ID),
		TargetUserID: nullString(post.Username),
		LatencyMS:    nullInt64(latency.Milliseconds()),
		Metadata:     database.Metadata{"action": "auto_reply_generated", "model": result.Model},
	})
}

// matchesKeywordRules reports whether the user wants a reply to this text.
// Users without keyword rules reply to everything; users with keyword
// rules reply only when at least one keyword appears (case-insensitive).
func (o *Orchestrator) matchesKeywordRules(ctx context.Context, userID, text string) (bool, error) {
	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rules, err := o.store.ListKeywordRules(dbCtx, userID)
	if err != nil {
		return false, err
	}
	if len(rules) == 0 {
		return true, nil
	}

	lowered := strings.ToLower(text)
	for _, rule := range rules {
		keyword := strings.ToLower(strings.TrimSpace(rule.RuleValue))
		if keyword != "" && strings.Contains(lowered, keyword) {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) recordUserError(ctx context.Context, eventID, userID string, post *threads.Post, action string, err error) {
	o.audit.Record(ctx, &database.LogEntry{
		UserID:       userID,
		EventID:      eventID,
		Status:       database.LogStatusError,
		Text:         nullString(post.Text),
		ErrorMessage: nullString(err.Error()),
		ThreadID:     nullString(post.ID),
		TargetUserID: nullString(post.Username),
		Metadata:     database.Metadata{"action": action},
	})
}

// ruleOwners returns the distinct owning users of the enabled rules,
// preserving store order.
func ruleOwners(rules []*database.Rule) []string {
	seen := make(map[string]bool, len(rules))
	owners := make([]string, 0, len(rules))
	for _, rule := range rules {
		if rule == nil || seen[rule.UserID] {
			continue
		}
		seen[rule.UserID] = true
		owners = append(owners, rule.UserID)
	}
	return owners
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
