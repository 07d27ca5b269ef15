package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/eduparlema/llmproxy-chatbot/internal/httpkit"
)

const googleEndpoint = "https://www.googleapis.com/customsearch/v1"

// Google implements the Provider interface for the Custom Search JSON API.
type Google struct {
	apiKey     string
	engineID   string
	endpoint   string
	httpClient *http.Client
}

// NewGoogle creates a Google Custom Search provider for the given
// programmable search engine.
func NewGoogle(apiKey, engineID string) *Google {
	return &Google{
		apiKey:   apiKey,
		engineID: engineID,
		endpoint: googleEndpoint,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (g *Google) Name() string { return "google" }

type googleResponse struct {
	Items []googleItem `json:"items"`
}

type googleItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func (g *Google) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 {
		count = 2
	}
	if count > 10 {
		count = 10 // API maximum
	}

	params := url.Values{
		"key": {g.apiKey},
		"cx":  {g.engineID},
		"q":   {query},
		"num": {strconv.Itoa(count)},
	}
	if opts.Language != "" {
		params.Set("lr", "lang_"+opts.Language)
	}
	if opts.Country != "" {
		params.Set("gl", opts.Country)
	}
	if opts.Site != "" {
		params.Set("siteSearch", opts.Site)
		params.Set("siteSearchFilter", "i")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("google: HTTP %d: %s", resp.StatusCode, body)
	}

	var gr googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("google: decode response: %w", err)
	}

	results := make([]Result, 0, len(gr.Items))
	for _, it := range gr.Items {
		results = append(results, Result{
			Title:   it.Title,
			URL:     it.Link,
			Snippet: it.Snippet,
		})
	}
	return results, nil
}
