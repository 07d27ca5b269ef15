package search

import (
	"context"
	"fmt"
	"log/slog"
)

// Tool executes web_search calls from generated text.
type Tool struct {
	mgr      *Manager
	enhancer *Enhancer
	opts     Options
	logger   *slog.Logger
}

// NewTool creates the web_search tool. Every query is scoped by opts.
// enhancer may be nil.
func NewTool(mgr *Manager, enhancer *Enhancer, opts Options, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{mgr: mgr, enhancer: enhancer, opts: opts, logger: logger}
}

// Run searches for query and returns the formatted result list.
func (t *Tool) Run(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "", fmt.Errorf("web_search: query is required")
	}
	if t.enhancer != nil {
		query = t.enhancer.Enhance(ctx, query)
	}

	results, err := t.mgr.Search(ctx, query, t.opts)
	if err != nil {
		return "", fmt.Errorf("web_search: %w", err)
	}
	t.logger.Debug("web search complete", "query", query, "results", len(results))
	return FormatResults(results), nil
}
