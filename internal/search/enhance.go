package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/eduparlema/llmproxy-chatbot/internal/llm"
	"github.com/eduparlema/llmproxy-chatbot/internal/prompts"
)

// maxEnhancedLen caps rewritten queries; anything longer is almost
// certainly a chatty answer rather than a query.
const maxEnhancedLen = 256

// Enhancer rewrites a question into a concise web search query with one
// generation call.
type Enhancer struct {
	client    llm.Client
	model     string
	sessionID string
	logger    *slog.Logger
	recorder  Recorder
}

// Recorder counts generation calls by purpose.
type Recorder interface {
	Generation(purpose string, err error)
}

// EnhancerOption configures an Enhancer.
type EnhancerOption func(*Enhancer)

// WithRecorder counts each rewrite under the "enhance" purpose.
func WithRecorder(r Recorder) EnhancerOption {
	return func(e *Enhancer) { e.recorder = r }
}

// NewEnhancer creates an Enhancer. The session ID keeps rewrite history
// apart from the advising conversation on services that keep history.
func NewEnhancer(client llm.Client, model, sessionID string, logger *slog.Logger, opts ...EnhancerOption) *Enhancer {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enhancer{client: client, model: model, sessionID: sessionID, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enhance returns the rewritten query, or query unchanged when generation
// fails or returns something unusable.
func (e *Enhancer) Enhance(ctx context.Context, query string) string {
	resp, err := e.client.Generate(ctx, llm.Request{
		Model:     e.model,
		System:    prompts.EnhanceSystemPrompt(),
		Query:     query,
		SessionID: e.sessionID,
	})
	if e.recorder != nil {
		e.recorder.Generation("enhance", err)
	}
	if err != nil {
		e.logger.Warn("query enhancement failed, using raw query", "error", err)
		return query
	}

	enhanced := strings.Trim(strings.TrimSpace(resp.Text), `"'`)
	if enhanced == "" || len(enhanced) > maxEnhancedLen || strings.Contains(enhanced, "\n") {
		e.logger.Debug("discarding unusable enhanced query", "enhanced", enhanced)
		return query
	}
	e.logger.Debug("query enhanced", "original", query, "enhanced", enhanced)
	return enhanced
}
