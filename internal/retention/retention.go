// Package retention decides whether a fetched page should be written to
// the knowledge store, and with what summary.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/eduparlema/llmproxy-chatbot/internal/llm"
	"github.com/eduparlema/llmproxy-chatbot/internal/prompts"
)

// Decision is the outcome of classifying one page. Store implies a
// non-empty Summary.
type Decision struct {
	Store   bool
	Summary string
}

// Format violations reported by [Decode].
var (
	ErrMissingDecision = errors.New("no decision token")
	ErrMissingSummary  = errors.New("store decision without summary")
)

// FormatError reports a response that did not follow the decision format.
type FormatError struct {
	Err      error
	Response string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("retention response: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

var (
	storeToken   = regexp.MustCompile(`\b` + prompts.RetentionStore + `\b`)
	discardToken = regexp.MustCompile(`\b` + prompts.RetentionDiscard + `\b`)
)

// Decode parses a retention response. Store is set iff the STORE token
// appears as a whole word. The summary is the text after the "Summary:"
// marker. A STORE without a summary is a violation; on any violation the
// returned Decision has Store false.
func Decode(response string) (Decision, error) {
	store := storeToken.MatchString(response)
	if !store && !discardToken.MatchString(response) {
		return Decision{}, &FormatError{Err: ErrMissingDecision, Response: response}
	}
	if !store {
		return Decision{}, nil
	}

	_, summary, found := strings.Cut(response, prompts.RetentionSummary)
	summary = strings.TrimSpace(summary)
	if !found || summary == "" || strings.EqualFold(summary, "none") {
		return Decision{}, &FormatError{Err: ErrMissingSummary, Response: response}
	}
	return Decision{Store: true, Summary: summary}, nil
}

// Gate classifies fetched pages with one generation call each.
type Gate struct {
	client     llm.Client
	model      string
	maxChars   int
	logger     *slog.Logger
	onDecision func(Decision, error)
	recorder   Recorder
}

// Recorder counts generation calls by purpose.
type Recorder interface {
	Generation(purpose string, err error)
}

// Option configures a Gate.
type Option func(*Gate)

// WithMaxChars truncates fetched text before classification. Zero means
// no limit.
func WithMaxChars(n int) Option {
	return func(g *Gate) { g.maxChars = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithDecisionHook registers a callback invoked after every
// classification, used for metrics.
func WithDecisionHook(fn func(Decision, error)) Option {
	return func(g *Gate) { g.onDecision = fn }
}

// WithRecorder counts each classification generation under the
// "retention" purpose.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// NewGate creates a gate that generates with the given client and model.
func NewGate(client llm.Client, model string, opts ...Option) *Gate {
	g := &Gate{client: client, model: model, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Classify asks whether fetched is worth keeping for questions like query.
// Generation failures and format violations yield Store false and are
// logged; Classify never blocks the answer.
func (g *Gate) Classify(ctx context.Context, query, fetched string) Decision {
	d, err := g.classify(ctx, query, fetched)
	if g.onDecision != nil {
		g.onDecision(d, err)
	}
	if err != nil {
		g.logger.Warn("retention gate: not storing", "error", err)
		return Decision{}
	}
	g.logger.Debug("retention gate decided", "store", d.Store, "summary_len", len(d.Summary))
	return d
}

func (g *Gate) classify(ctx context.Context, query, fetched string) (Decision, error) {
	if strings.TrimSpace(fetched) == "" {
		return Decision{}, nil
	}
	if g.maxChars > 0 && len(fetched) > g.maxChars {
		fetched = truncate(fetched, g.maxChars)
	}

	resp, err := g.client.Generate(ctx, llm.Request{
		Model:  g.model,
		System: prompts.RetentionSystemPrompt(),
		Query:  prompts.RetentionQuery(query, fetched),
	})
	if g.recorder != nil {
		g.recorder.Generation("retention", err)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("generate: %w", err)
	}
	return Decode(resp.Text)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
