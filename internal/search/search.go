// Package search provides the web_search tool.
//
// Backends implement [Provider]. A [Manager] tries the configured
// provider first and falls back to the others in registration order,
// then cleans the hits into the list [FormatResults] renders for the
// model. [Tool] turns a query from generated text into a context chunk,
// optionally rewriting it first with an [Enhancer].
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Result is one hit handed to the model.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options scope a query. Zero values leave the provider default.
type Options struct {
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 code such as "en".
	Language string `json:"language,omitempty"`

	// Country is an ISO 3166-1 alpha-2 code such as "us".
	Country string `json:"country,omitempty"`

	// Site restricts hits to one domain, e.g. "tufts.edu".
	Site string `json:"site,omitempty"`
}

// Provider is a web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager routes queries to the primary provider with fallback.
type Manager struct {
	primary   string
	providers map[string]Provider
	order     []string
}

// NewManager creates a manager whose first choice is primary.
func NewManager(primary string) *Manager {
	return &Manager{
		primary:   primary,
		providers: make(map[string]Provider),
	}
}

// Register adds p. Providers other than the primary are tried in the
// order they were registered.
func (m *Manager) Register(p Provider) {
	if _, ok := m.providers[p.Name()]; !ok {
		m.order = append(m.order, p.Name())
	}
	m.providers[p.Name()] = p
}

// Search queries the primary provider and, when it fails, each fallback
// in turn. An empty result list is an answer, not a failure.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if !m.Configured() {
		return nil, fmt.Errorf("search provider %q not configured", m.primary)
	}

	var errs []error
	for _, name := range m.chain() {
		results, err := m.providers[name].Search(ctx, query, opts)
		if err == nil {
			return clean(results, opts.Count), nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (m *Manager) chain() []string {
	names := []string{m.primary}
	for _, name := range m.order {
		if name != m.primary {
			names = append(names, name)
		}
	}
	return names
}

// Providers returns the sorted names of all registered providers.
func (m *Manager) Providers() []string {
	names := append([]string(nil), m.order...)
	sort.Strings(names)
	return names
}

// Configured reports whether the primary provider is registered.
func (m *Manager) Configured() bool {
	_, ok := m.providers[m.primary]
	return ok
}

// clean trims whitespace, drops hits without a URL, removes duplicate
// URLs and caps the list at limit when limit is positive.
func clean(results []Result, limit int) []Result {
	out := make([]Result, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		r.URL = strings.TrimSpace(r.URL)
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		r.Title = strings.TrimSpace(r.Title)
		if r.Title == "" {
			r.Title = r.URL
		}
		r.Snippet = strings.Join(strings.Fields(r.Snippet), " ")
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// FormatResults builds the text the model sees for a result list.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(r.Title)
		sb.WriteString("\n   ")
		sb.WriteString(r.URL)
		if r.Snippet != "" {
			sb.WriteString("\n   ")
			sb.WriteString(r.Snippet)
		}
	}
	return sb.String()
}
