package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const advisingPage = `<!DOCTYPE html>
<html>
<head><title>Employment | International Center</title></head>
<body>
<div class="banner">Skip to main content</div>
<script>var tracking = 1;</script>
<h1>Optional Practical Training</h1>
<p>F-1 students may apply up to <strong>90 days</strong> before their program end date.</p>
<ul>
  <li>Form I-765</li>
  <li><a href="/opt">OPT checklist</a></li>
</ul>
<table><tbody><tr><td>Fee</td><td>$470</td></tr></tbody></table>
</body>
</html>`

func TestTagExtractor(t *testing.T) {
	title, text, err := TagExtractor{}.Extract([]byte(advisingPage), nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if title != "Employment | International Center" {
		t.Errorf("title = %q", title)
	}

	want := strings.Join([]string{
		"Optional Practical Training",
		"F-1 students may apply up to 90 days before their program end date.",
		"Form I-765 OPT checklist",
		"Fee $470",
	}, "\n")
	if text != want {
		t.Errorf("text =\n%s\nwant\n%s", text, want)
	}
	for _, unwanted := range []string{"Skip to main content", "tracking"} {
		if strings.Contains(text, unwanted) {
			t.Errorf("text should not contain %q", unwanted)
		}
	}
}

func TestNewExtractor(t *testing.T) {
	for _, name := range []string{"", "tags", "readability"} {
		if _, err := NewExtractor(name); err != nil {
			t.Errorf("NewExtractor(%q): %v", name, err)
		}
	}
	if _, err := NewExtractor("chromedp"); err == nil {
		t.Error("expected error for unknown extractor")
	}
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		if !strings.HasPrefix(ua, "Jumbo/") {
			t.Errorf("expected Jumbo User-Agent, got %q", ua)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Test</title></head><body><p>Hello from test server</p></body></html>`))
	}))
	defer ts.Close()

	f := New()
	result, err := f.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if result.Title != "Test" {
		t.Errorf("expected title 'Test', got %q", result.Title)
	}
	if result.Content != "Hello from test server" {
		t.Errorf("content = %q", result.Content)
	}
	if result.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", result.StatusCode)
	}
}

func TestFetchPlainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Just plain text content"))
	}))
	defer ts.Close()

	result, err := New().Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Content != "Just plain text content" {
		t.Errorf("expected plain text content, got %q", result.Content)
	}
}

func TestFetchTruncation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer ts.Close()

	result, err := New(WithMaxChars(100)).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.Truncated {
		t.Error("expected truncated=true")
	}
	if len(result.Content) != 100 {
		t.Errorf("expected length 100, got %d", len(result.Content))
	}
}

func TestFetchHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, err := New().Fetch(context.Background(), ts.URL)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want HTTP 404", err)
	}
}

func TestFetchEmptyURL(t *testing.T) {
	if _, err := New().Fetch(context.Background(), "  "); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestCleanWhitespace(t *testing.T) {
	input := "  Hello   world  \n\n\n\n  Second line  \n\n\n Third  "
	got := cleanWhitespace(input)
	if got != "Hello world\n\nSecond line\n\nThird" {
		t.Errorf("cleanWhitespace() = %q", got)
	}
}

func TestTruncateUTF8(t *testing.T) {
	s := "Héllo wörld café"
	truncated := truncateUTF8(s, 5)
	if truncated != "Héllo" {
		t.Errorf("truncateUTF8() = %q, want Héllo", truncated)
	}
}

func TestRun(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Tool Test</title></head><body><p>Content here</p></body></html>`))
	}))
	defer ts.Close()

	out, err := New().Run(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "Tool Test\n\nContent here" {
		t.Errorf("Run() = %q", out)
	}
}
