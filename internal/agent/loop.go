// Package agent implements the advising turn: knowledge lookup, a bounded
// tool-calling loop over generated text, clarification suspension and
// resumption, and retention of useful fetched pages.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eduparlema/llmproxy-chatbot/internal/knowledge"
	"github.com/eduparlema/llmproxy-chatbot/internal/llm"
	"github.com/eduparlema/llmproxy-chatbot/internal/metrics"
	"github.com/eduparlema/llmproxy-chatbot/internal/prompts"
	"github.com/eduparlema/llmproxy-chatbot/internal/retention"
	"github.com/eduparlema/llmproxy-chatbot/internal/retrieval"
	"github.com/eduparlema/llmproxy-chatbot/internal/session"
	"github.com/eduparlema/llmproxy-chatbot/internal/toolcall"
)

// DefaultMaxToolCalls bounds tool executions per turn when Config leaves
// it unset.
const DefaultMaxToolCalls = 5

// Tool runs one retrieval tool call and returns text for the context.
type Tool interface {
	Run(ctx context.Context, argument string) (string, error)
}

// Classifier is the retention gate.
type Classifier interface {
	Classify(ctx context.Context, query, fetched string) retention.Decision
}

// Config holds the generation parameters and bounds of a turn.
type Config struct {
	Model        string
	Temperature  float64
	HistoryDepth int
	// SessionID prefixes the per-user history session on the generation
	// service.
	SessionID string

	// MaxToolCalls is the number of tool executions allowed per turn.
	// A turn makes at most MaxToolCalls+1 generation calls.
	MaxToolCalls int
	// TurnTimeout bounds one whole turn. Zero means no limit.
	TurnTimeout time.Duration
	// ClarificationTTL expires suspended clarifications. Zero means they
	// never expire.
	ClarificationTTL time.Duration
}

// Deps are the collaborators of a Loop. Search, Fetch and Gate may be
// nil; Client, Sessions and Knowledge may not.
type Deps struct {
	Client    llm.Client
	Knowledge knowledge.Store
	Search    Tool
	Fetch     Tool
	Gate      Classifier
	Sessions  session.Store
	Locks     session.Locker
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Loop resolves user turns. It is safe for concurrent use; turns for the
// same user are serialised.
type Loop struct {
	cfg       Config
	client    llm.Client
	knowledge knowledge.Store
	search    Tool
	fetch     Tool
	gate      Classifier
	sessions  session.Store
	locks     session.Locker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Loop.
func New(cfg Config, deps Deps) *Loop {
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = DefaultMaxToolCalls
	}
	if deps.Knowledge == nil {
		deps.Knowledge = knowledge.None{}
	}
	if deps.Locks == nil {
		deps.Locks = session.NewLocks()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Loop{
		cfg:       cfg,
		client:    deps.Client,
		knowledge: deps.Knowledge,
		search:    deps.Search,
		fetch:     deps.Fetch,
		gate:      deps.Gate,
		sessions:  deps.Sessions,
		locks:     deps.Locks,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// Resolve handles one message from userID and returns the text to send
// back. Failures inside the turn degrade to [prompts.EscalationFallback];
// an error is returned only if ctx is already done when Resolve is called.
func (l *Loop) Resolve(ctx context.Context, userID, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := time.Now()
	log := l.logger.With("request_id", generateRequestID(), "user", userID)

	if l.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.TurnTimeout)
		defer cancel()
	}

	unlock, err := l.locks.Lock(ctx, userID)
	if err != nil {
		log.Warn("turn timed out waiting for previous turn", "error", err)
		l.metrics.Turn(metrics.OutcomeFallback, time.Since(start))
		return prompts.EscalationFallback, nil
	}
	defer unlock()

	text, outcome := l.resolveLocked(ctx, log, userID, message)

	elapsed := time.Since(start)
	l.metrics.Turn(outcome, elapsed)
	log.Info("turn complete", "outcome", outcome, "elapsed", elapsed.Round(time.Millisecond))
	return text, nil
}

func (l *Loop) resolveLocked(ctx context.Context, log *slog.Logger, userID, message string) (string, string) {
	st, err := l.sessions.Get(ctx, userID)
	if err != nil {
		log.Warn("session lookup failed, treating user as idle", "error", err)
		st = session.State{Phase: session.PhaseIdle}
	}

	if st.Awaiting() {
		if !st.Expired(l.now(), l.cfg.ClarificationTTL) {
			return l.resume(ctx, log, userID, st, message)
		}
		log.Info("pending clarification expired", "age", l.now().Sub(st.CreatedAt).Round(time.Second))
		l.clear(ctx, log, userID)
		text, outcome := l.run(ctx, log, userID, message)
		return prompts.ClarificationExpiredNotice + text, outcome
	}

	return l.run(ctx, log, userID, message)
}

// resume answers a clarified question with a single generation call. The
// suspended state is cleared whatever the outcome.
func (l *Loop) resume(ctx context.Context, log *slog.Logger, userID string, st session.State, reply string) (string, string) {
	defer l.clear(ctx, log, userID)

	log.Debug("resuming clarified question", "pending_query", st.PendingQuery, "context_chunks", st.PendingContext.Len())
	resp, err := l.generate(ctx, userID, "resume",
		prompts.ResumeSystemPrompt(),
		prompts.ResumeQuery(st.PendingQuery, st.PendingContext.Render(), reply))
	if err != nil {
		log.Error("resume generation failed", "error", err)
		return prompts.EscalationFallback, metrics.OutcomeFallback
	}

	text := strings.TrimSpace(resp.Text)
	text = strings.TrimSpace(strings.TrimSuffix(text, toolcall.ClarificationMarker))
	if text == "" {
		return prompts.EscalationFallback, metrics.OutcomeFallback
	}
	return text, metrics.OutcomeResumed
}

// run is the tool loop for a fresh question.
func (l *Loop) run(ctx context.Context, log *slog.Logger, userID, message string) (string, string) {
	var rc retrieval.Context

	docs, err := l.knowledge.Retrieve(ctx, message)
	if err != nil {
		log.Warn("knowledge retrieval failed, continuing without it", "error", err)
	}
	for _, d := range docs {
		rc.Add(retrieval.KindKnowledgeStore, "", d.Text())
	}
	log.Debug("knowledge retrieved", "documents", len(docs))

	toolCalls := 0
	for gen := 0; gen <= l.cfg.MaxToolCalls; gen++ {
		if err := ctx.Err(); err != nil {
			log.Warn("turn deadline reached", "tool_calls", toolCalls, "error", err)
			return prompts.EscalationFallback, metrics.OutcomeFallback
		}

		resp, err := l.generate(ctx, userID, "agent",
			prompts.AgentSystemPrompt(),
			prompts.AgentQuery(message, rc.Render(), l.cfg.MaxToolCalls-toolCalls))
		if err != nil {
			log.Error("generation failed", "iteration", gen, "error", err)
			return prompts.EscalationFallback, metrics.OutcomeFallback
		}

		switch out := toolcall.Parse(resp.Text).(type) {
		case toolcall.ToolCall:
			if toolCalls >= l.cfg.MaxToolCalls {
				log.Warn("tool budget exhausted", "max_tool_calls", l.cfg.MaxToolCalls)
				return prompts.EscalationFallback, metrics.OutcomeFallback
			}
			toolCalls++
			l.runTool(ctx, log, message, out, &rc)

		case toolcall.NeedsClarification:
			if out.Text == "" {
				return prompts.EscalationFallback, metrics.OutcomeFallback
			}
			st := session.State{
				Phase:          session.PhaseAwaitingClarification,
				PendingQuery:   message,
				PendingContext: rc,
				CreatedAt:      l.now(),
			}
			if err := l.sessions.Put(ctx, userID, st); err != nil {
				log.Error("failed to save clarification state", "error", err)
			}
			log.Debug("asking for clarification", "context_chunks", rc.Len())
			return out.Text, metrics.OutcomeClarification

		case toolcall.FinalAnswer:
			return out.Text, metrics.OutcomeAnswer
		}
	}

	log.Warn("tool budget exhausted", "max_tool_calls", l.cfg.MaxToolCalls)
	return prompts.EscalationFallback, metrics.OutcomeFallback
}

// runTool executes one call and appends its result, or an error
// placeholder, to rc. Useful fetched pages go through the retention gate.
func (l *Loop) runTool(ctx context.Context, log *slog.Logger, question string, call toolcall.ToolCall, rc *retrieval.Context) {
	var (
		tool Tool
		kind retrieval.Kind
	)
	switch call.Name {
	case toolcall.WebSearch:
		tool, kind = l.search, retrieval.KindWebSearch
	case toolcall.FetchPage:
		tool, kind = l.fetch, retrieval.KindPageFetch
	}

	var text string
	var err error
	if tool == nil {
		err = fmt.Errorf("%s is not available", call.Name)
	} else {
		text, err = tool.Run(ctx, call.Argument)
	}
	l.metrics.ToolCall(string(call.Name), err)

	if err != nil {
		log.Warn("tool failed", "tool", call.Name, "argument", call.Argument, "error", err)
		rc.Add(kind, call.Argument, "Error: "+err.Error())
		return
	}
	log.Debug("tool complete", "tool", call.Name, "argument", call.Argument, "chars", len(text))
	rc.Add(kind, call.Argument, text)

	if kind != retrieval.KindPageFetch || l.gate == nil || strings.TrimSpace(text) == "" {
		return
	}
	d := l.gate.Classify(ctx, question, text)
	if !d.Store {
		return
	}
	err = l.knowledge.Store(ctx, d.Summary)
	l.metrics.KnowledgeWrite(err)
	if err != nil {
		log.Warn("failed to store retained summary", "url", call.Argument, "error", err)
		return
	}
	log.Info("retained page summary", "url", call.Argument)
}

func (l *Loop) generate(ctx context.Context, userID, purpose, system, query string) (*llm.Response, error) {
	resp, err := l.client.Generate(ctx, llm.Request{
		Model:        l.cfg.Model,
		System:       system,
		Query:        query,
		Temperature:  l.cfg.Temperature,
		HistoryDepth: l.cfg.HistoryDepth,
		SessionID:    l.historySession(userID),
	})
	l.metrics.Generation(purpose, err)
	return resp, err
}

// historySession keeps each user's history on the generation service
// apart from every other user's.
func (l *Loop) historySession(userID string) string {
	if l.cfg.SessionID == "" {
		return userID
	}
	return l.cfg.SessionID + "-" + userID
}

func (l *Loop) clear(ctx context.Context, log *slog.Logger, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.sessions.Clear(ctx, userID); err != nil {
		log.Error("failed to clear session state", "error", err)
	}
}

// generateRequestID returns a short ID that ties together the log lines
// of one turn.
func generateRequestID() string {
	id := uuid.New()
	return fmt.Sprintf("r_%x", id[:4])
}
