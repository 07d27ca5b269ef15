package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/eduparlema/llmproxy-chatbot/internal/httpkit"
)

const (
	braveEndpoint = "https://api.search.brave.com/res/v1/web/search"
	braveMaxCount = 20
)

// Brave queries the Brave Search web API. It is normally registered as
// the fallback when Google's daily quota runs out.
type Brave struct {
	token    string
	endpoint string
	client   *http.Client
}

// NewBrave creates a Brave provider authenticated by a subscription token.
func NewBrave(token string) *Brave {
	return &Brave{
		token:    token,
		endpoint: braveEndpoint,
		client:   httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

func (b *Brave) Name() string { return "brave" }

type braveHit struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Description   string   `json:"description"`
	ExtraSnippets []string `json:"extra_snippets"`
}

// braveQuery maps Options onto Brave's query parameters. Brave has no
// site parameter, so Site becomes a site: operator in q.
func braveQuery(query string, opts Options) url.Values {
	n := opts.Count
	switch {
	case n <= 0:
		n = 2
	case n > braveMaxCount:
		n = braveMaxCount
	}
	if opts.Site != "" {
		query = "site:" + opts.Site + " " + query
	}
	v := url.Values{}
	v.Set("q", query)
	v.Set("count", strconv.Itoa(n))
	v.Set("safesearch", "moderate")
	v.Set("text_decorations", "false")
	if opts.Language != "" {
		v.Set("search_lang", strings.ToLower(opts.Language))
	}
	if opts.Country != "" {
		v.Set("country", strings.ToUpper(opts.Country))
	}
	return v
}

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.endpoint+"?"+braveQuery(query, opts).Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.token)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var payload struct {
		Web *struct {
			Results []braveHit `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("brave: decode: %w", err)
	}
	// A query with no web hits omits the web section entirely.
	if payload.Web == nil {
		return nil, nil
	}

	out := make([]Result, 0, len(payload.Web.Results))
	for _, h := range payload.Web.Results {
		snippet := plainText(h.Description)
		if len(h.ExtraSnippets) > 0 {
			snippet = strings.TrimSpace(snippet + " " + plainText(h.ExtraSnippets[0]))
		}
		out = append(out, Result{Title: plainText(h.Title), URL: h.URL, Snippet: snippet})
	}
	return out, nil
}

// plainText drops markup such as <strong> and decodes entities.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			sb.Write(z.Text())
		}
	}
}
