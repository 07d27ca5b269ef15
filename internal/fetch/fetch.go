// Package fetch provides the fetch_page tool: it downloads a URL and
// extracts the text a student-advising answer can use.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eduparlema/llmproxy-chatbot/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout for fetching pages.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum response body size (5 MB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// DefaultMaxChars is the default character limit for extracted text.
const DefaultMaxChars = 50000

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client    *http.Client
	extractor Extractor
	maxBytes  int64
	maxChars  int
	logger    *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithExtractor sets the HTML extractor. The default is [TagExtractor].
func WithExtractor(e Extractor) Option {
	return func(f *Fetcher) { f.extractor = e }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.client = httpkit.NewClient(httpkit.WithTimeout(d))
		}
	}
}

// WithMaxChars limits extracted text. Zero uses DefaultMaxChars.
func WithMaxChars(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxChars = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
		extractor: TagExtractor{},
		maxBytes:  DefaultMaxBytes,
		maxChars:  DefaultMaxChars,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the URL and extracts readable text content. HTTP error
// statuses are returned as errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("fetch_page: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch_page: invalid url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch_page: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch_page: request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch_page: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 256))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch_page: failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var title, content string
	switch {
	case isHTML(contentType):
		title, content, err = f.extractor.Extract(body, pageURL)
		if err != nil {
			return nil, fmt.Errorf("fetch_page: %w", err)
		}
	case isPlainText(contentType), utf8.Valid(body):
		content = cleanWhitespace(string(body))
	default:
		return nil, fmt.Errorf("fetch_page: binary content (%s), %d bytes", contentType, len(body))
	}

	truncated := false
	if len(content) > f.maxChars {
		content = truncateUTF8(content, f.maxChars)
		truncated = true
	}

	f.logger.Debug("page fetched", "url", rawURL, "status", resp.StatusCode, "chars", len(content), "truncated", truncated)

	return &Result{
		URL:         rawURL,
		Title:       title,
		Content:     content,
		ContentType: contentType,
		Truncated:   truncated,
		StatusCode:  resp.StatusCode,
	}, nil
}

// Run implements the fetch_page tool: it returns the page text, headed
// by its title when there is one.
func (f *Fetcher) Run(ctx context.Context, rawURL string) (string, error) {
	res, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if res.Title == "" {
		return res.Content, nil
	}
	return res.Title + "\n\n" + res.Content, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isPlainText(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "text/plain")
}

// truncateUTF8 truncates a string to maxChars runes.
func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
