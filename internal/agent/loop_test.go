package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eduparlema/llmproxy-chatbot/internal/knowledge"
	"github.com/eduparlema/llmproxy-chatbot/internal/llm"
	"github.com/eduparlema/llmproxy-chatbot/internal/prompts"
	"github.com/eduparlema/llmproxy-chatbot/internal/retention"
	"github.com/eduparlema/llmproxy-chatbot/internal/session"
)

// mockLLM returns scripted responses in order and records every request.
// When the script runs out it repeats the last entry.
type mockLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []llm.Request
	delay     time.Duration
}

func (m *mockLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	i := len(m.calls)
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if len(m.responses) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return &llm.Response{Text: m.responses[i]}, nil
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockTool records arguments and returns fixed output.
type mockTool struct {
	mu     sync.Mutex
	output string
	err    error
	args   []string
}

func (t *mockTool) Run(_ context.Context, arg string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.args = append(t.args, arg)
	return t.output, t.err
}

type mockGate struct {
	decision retention.Decision
	calls    int
}

func (g *mockGate) Classify(context.Context, string, string) retention.Decision {
	g.calls++
	return g.decision
}

type mockKnowledge struct {
	mu     sync.Mutex
	docs   []knowledge.Document
	err    error
	stored []string
}

func (k *mockKnowledge) Retrieve(context.Context, string) ([]knowledge.Document, error) {
	return k.docs, k.err
}

func (k *mockKnowledge) Store(_ context.Context, text string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stored = append(k.stored, text)
	return nil
}

type testEnv struct {
	llm      *mockLLM
	search   *mockTool
	fetch    *mockTool
	gate     *mockGate
	kb       *mockKnowledge
	sessions *session.MemoryStore
	loop     *Loop
}

func buildTestLoop(t *testing.T, m *mockLLM, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		llm:      m,
		search:   &mockTool{output: "1. OPT | Tufts\n   https://tufts.edu/opt"},
		fetch:    &mockTool{output: "OPT applications open 90 days before completion."},
		gate:     &mockGate{},
		kb:       &mockKnowledge{},
		sessions: session.NewMemoryStore(),
	}
	if cfg.MaxToolCalls == 0 {
		cfg.MaxToolCalls = 3
	}
	env.loop = New(cfg, Deps{
		Client:    m,
		Knowledge: env.kb,
		Search:    env.search,
		Fetch:     env.fetch,
		Gate:      env.gate,
		Sessions:  env.sessions,
	})
	return env
}

func TestResolve_DirectAnswer(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{"OPT lasts 12 months."}}, Config{Model: "4o-mini", SessionID: "Jumbo"})

	got, err := env.loop.Resolve(context.Background(), "alice", "How long is OPT?")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "OPT lasts 12 months." {
		t.Errorf("answer = %q", got)
	}
	if env.llm.callCount() != 1 {
		t.Errorf("generation calls = %d, want 1", env.llm.callCount())
	}
	req := env.llm.calls[0]
	if req.Model != "4o-mini" || req.SessionID != "Jumbo-alice" {
		t.Errorf("request = %+v", req)
	}
	if !strings.Contains(req.Query, "How long is OPT?") {
		t.Errorf("query missing question: %q", req.Query)
	}
}

func TestResolve_KnowledgeSeedsContext(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{"answer"}}, Config{})
	env.kb.docs = []knowledge.Document{{Summary: "Dowling Hall", Chunks: []string{"The center is in Dowling Hall."}}}

	env.loop.Resolve(context.Background(), "alice", "Where is the center?")
	if !strings.Contains(env.llm.calls[0].Query, "The center is in Dowling Hall.") {
		t.Errorf("knowledge not in first query:\n%s", env.llm.calls[0].Query)
	}
}

func TestResolve_KnowledgeErrorIsNotFatal(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{"answer"}}, Config{})
	env.kb.err = errors.New("index unavailable")

	got, _ := env.loop.Resolve(context.Background(), "alice", "q")
	if got != "answer" {
		t.Errorf("answer = %q", got)
	}
}

func TestResolve_SearchThenAnswer(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{
		`web_search("tufts opt")`,
		"You can apply 90 days early.",
	}}, Config{})

	got, _ := env.loop.Resolve(context.Background(), "alice", "When do I apply for OPT?")
	if got != "You can apply 90 days early." {
		t.Errorf("answer = %q", got)
	}
	if len(env.search.args) != 1 || env.search.args[0] != "tufts opt" {
		t.Errorf("search args = %v", env.search.args)
	}
	second := env.llm.calls[1].Query
	if !strings.Contains(second, "https://tufts.edu/opt") {
		t.Errorf("search result missing from second query:\n%s", second)
	}
	if env.gate.calls != 0 {
		t.Error("search results must not go through the retention gate")
	}
}

func TestResolve_TwoCallsInOneResponseRunsFirst(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{
		`I will web_search("tufts visa") then get_page("x")`,
		"done",
	}}, Config{})

	env.loop.Resolve(context.Background(), "alice", "visa?")
	if len(env.search.args) != 1 || env.search.args[0] != "tufts visa" {
		t.Errorf("search args = %v", env.search.args)
	}
	if len(env.fetch.args) != 0 {
		t.Errorf("fetch should not run, got %v", env.fetch.args)
	}
}

func TestResolve_FetchRetainedWhenGateStores(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{
		`get_page("https://tufts.edu/opt")`,
		"Apply 90 days before completion.",
	}}, Config{})
	env.gate.decision = retention.Decision{Store: true, Summary: "OPT opens 90 days before completion."}

	env.loop.Resolve(context.Background(), "alice", "When does OPT open?")
	if env.gate.calls != 1 {
		t.Errorf("gate calls = %d, want 1", env.gate.calls)
	}
	if len(env.kb.stored) != 1 || env.kb.stored[0] != "OPT opens 90 days before completion." {
		t.Errorf("stored = %v", env.kb.stored)
	}
}

func TestResolve_FetchDiscardedWhenGateDeclines(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{
		`get_page("https://tufts.edu/parking")`,
		"answer",
	}}, Config{})

	env.loop.Resolve(context.Background(), "alice", "q")
	if env.gate.calls != 1 {
		t.Errorf("gate calls = %d, want 1", env.gate.calls)
	}
	if len(env.kb.stored) != 0 {
		t.Errorf("nothing should be stored, got %v", env.kb.stored)
	}
}

func TestResolve_ToolErrorBecomesContext(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{
		`get_page("https://down.example")`,
		"I could not load that page.",
	}}, Config{})
	env.fetch.err = errors.New("connection refused")

	got, _ := env.loop.Resolve(context.Background(), "alice", "q")
	if got != "I could not load that page." {
		t.Errorf("answer = %q", got)
	}
	if !strings.Contains(env.llm.calls[1].Query, "Error: connection refused") {
		t.Errorf("error placeholder missing:\n%s", env.llm.calls[1].Query)
	}
	if env.gate.calls != 0 {
		t.Error("failed fetch must not reach the retention gate")
	}
}

func TestResolve_TerminatesWithinBudget(t *testing.T) {
	for _, max := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			env := buildTestLoop(t, &mockLLM{responses: []string{`web_search("again")`}}, Config{MaxToolCalls: max})

			got, err := env.loop.Resolve(context.Background(), "alice", "loop forever")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != prompts.EscalationFallback {
				t.Errorf("answer = %q, want fallback", got)
			}
			if n := env.llm.callCount(); n != max+1 {
				t.Errorf("generation calls = %d, want %d", n, max+1)
			}
			if n := len(env.search.args); n != max {
				t.Errorf("tool calls = %d, want %d", n, max)
			}
		})
	}
}

func TestResolve_GenerationFailureFallsBack(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{
		responses: []string{`web_search("x")`, "unused"},
		errs:      []error{nil, errors.New("proxy 502")},
	}, Config{})

	got, err := env.loop.Resolve(context.Background(), "alice", "q")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != prompts.EscalationFallback {
		t.Errorf("answer = %q, want fallback", got)
	}
}

func TestResolve_TimeoutFallsBack(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{"late"}, delay: time.Second}, Config{TurnTimeout: 20 * time.Millisecond})

	start := time.Now()
	got, err := env.loop.Resolve(context.Background(), "alice", "q")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != prompts.EscalationFallback {
		t.Errorf("answer = %q, want fallback", got)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("turn took %v, timeout not honoured", time.Since(start))
	}
}

func TestResolve_CancelledContextReturnsError(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{"x"}}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.loop.Resolve(ctx, "alice", "q"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if env.llm.callCount() != 0 {
		t.Error("no generation should happen for a cancelled turn")
	}
}

func TestResolve_ClarificationRoundTrip(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{
		`web_search("work off campus")`,
		"Are you on an F-1 or a J-1 visa?\n[NEEDS_CLARIFICATION]",
		"On F-1 you need CPT or OPT authorization.",
	}}, Config{})
	ctx := context.Background()

	first, _ := env.loop.Resolve(ctx, "alice", "Can I work off campus?")
	if first != "Are you on an F-1 or a J-1 visa?" {
		t.Errorf("first reply = %q", first)
	}
	st, _ := env.sessions.Get(ctx, "alice")
	if !st.Awaiting() || st.PendingQuery != "Can I work off campus?" {
		t.Fatalf("state after clarification = %+v", st)
	}
	if st.PendingContext.Len() != 1 {
		t.Errorf("pending context chunks = %d, want 1", st.PendingContext.Len())
	}

	second, _ := env.loop.Resolve(ctx, "alice", "F-1")
	if second != "On F-1 you need CPT or OPT authorization." {
		t.Errorf("second reply = %q", second)
	}
	if env.llm.callCount() != 3 {
		t.Errorf("generation calls = %d, want 3", env.llm.callCount())
	}
	resume := env.llm.calls[2]
	for _, want := range []string{"Can I work off campus?", "F-1", "https://tufts.edu/opt"} {
		if !strings.Contains(resume.Query, want) {
			t.Errorf("resume query missing %q:\n%s", want, resume.Query)
		}
	}
	if len(env.search.args) != 1 {
		t.Error("resume must not run tools")
	}
	if st, _ := env.sessions.Get(ctx, "alice"); st.Awaiting() {
		t.Error("state should be cleared after resume")
	}
}

func TestResolve_ResumeClearsStateOnFailure(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{
		responses: []string{"Which program?\n[NEEDS_CLARIFICATION]", "unused"},
		errs:      []error{nil, errors.New("down")},
	}, Config{})
	ctx := context.Background()

	env.loop.Resolve(ctx, "alice", "Deadlines?")
	got, _ := env.loop.Resolve(ctx, "alice", "MS CS")
	if got != prompts.EscalationFallback {
		t.Errorf("answer = %q, want fallback", got)
	}
	if env.sessions.Len() != 0 {
		t.Error("state should be cleared even when resume fails")
	}
}

func TestResolve_ExpiredClarificationStartsFresh(t *testing.T) {
	env := buildTestLoop(t, &mockLLM{responses: []string{
		"Which visa?\n[NEEDS_CLARIFICATION]",
		"Fresh answer.",
	}}, Config{ClarificationTTL: time.Minute})
	ctx := context.Background()

	env.loop.Resolve(ctx, "alice", "Can I travel?")
	env.loop.now = func() time.Time { return time.Now().Add(time.Hour) }

	got, _ := env.loop.Resolve(ctx, "alice", "Where is the library?")
	if got != prompts.ClarificationExpiredNotice+"Fresh answer." {
		t.Errorf("answer = %q", got)
	}
	if strings.Contains(env.llm.calls[1].Query, "Can I travel?") {
		t.Error("expired question must not be merged into the new one")
	}
	if env.sessions.Len() != 0 {
		t.Error("expired state should be cleared")
	}
}

func TestResolve_ConcurrentUsersAreIsolated(t *testing.T) {
	client := llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		// Ask alice for clarification; answer everyone else directly.
		if strings.Contains(req.Query, "alice-question") && !strings.Contains(req.Query, "Original question") {
			return &llm.Response{Text: "Which term? [NEEDS_CLARIFICATION]"}, nil
		}
		return &llm.Response{Text: "answer for " + req.SessionID}, nil
	})
	sessions := session.NewMemoryStore()
	loop := New(Config{SessionID: "s"}, Deps{Client: client, Sessions: sessions})

	var wg sync.WaitGroup
	results := make(map[string]string)
	var mu sync.Mutex
	for _, user := range []string{"alice", "bob", "carol", "dave"} {
		user := user
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := loop.Resolve(context.Background(), user, user+"-question")
			if err != nil {
				t.Errorf("Resolve(%s): %v", user, err)
			}
			mu.Lock()
			results[user] = got
			mu.Unlock()
		}()
	}
	wg.Wait()

	if results["alice"] != "Which term?" {
		t.Errorf("alice = %q", results["alice"])
	}
	for _, user := range []string{"bob", "carol", "dave"} {
		if results[user] != "answer for s-"+user {
			t.Errorf("%s = %q", user, results[user])
		}
		if st, _ := sessions.Get(context.Background(), user); st.Awaiting() {
			t.Errorf("%s observed alice's clarification state", user)
		}
	}
	if st, _ := sessions.Get(context.Background(), "alice"); !st.Awaiting() {
		t.Error("alice should be awaiting clarification")
	}
}

func TestResolve_SameUserTurnsSerialize(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	client := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return &llm.Response{Text: "ok"}, nil
	})
	loop := New(Config{}, Deps{Client: client, Sessions: session.NewMemoryStore()})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Resolve(context.Background(), "alice", "q")
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent turns for one user = %d, want 1", maxActive)
	}
}

func TestResolve_MissingToolBecomesErrorContext(t *testing.T) {
	m := &mockLLM{responses: []string{`web_search("x")`, "fine"}}
	loop := New(Config{}, Deps{Client: m, Sessions: session.NewMemoryStore()})

	got, _ := loop.Resolve(context.Background(), "alice", "q")
	if got != "fine" {
		t.Errorf("answer = %q", got)
	}
	if !strings.Contains(m.calls[1].Query, "Error: web_search is not available") {
		t.Errorf("missing placeholder:\n%s", m.calls[1].Query)
	}
}

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateRequestID()
		if !strings.HasPrefix(id, "r_") || len(id) != 10 {
			t.Fatalf("request ID %q, want r_ + 8 hex chars", id)
		}
		if seen[id] {
			t.Errorf("duplicate request ID %q", id)
		}
		seen[id] = true
	}
}
