package fetch

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// ReadabilityExtractor keeps only the main article of a page, as a
// reader view would. It suits long-form pages with heavy navigation.
type ReadabilityExtractor struct{}

func (ReadabilityExtractor) Extract(body []byte, pageURL *url.URL) (string, string, error) {
	if pageURL == nil {
		pageURL = &url.URL{}
	}
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", "", fmt.Errorf("readability: %w", err)
	}
	return strings.TrimSpace(article.Title), cleanWhitespace(article.TextContent), nil
}

// cleanWhitespace collapses runs of spaces within lines and drops
// consecutive blank lines.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prevEmpty := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// NewExtractor returns the extractor for a config name: "tags" (default)
// or "readability".
func NewExtractor(name string) (Extractor, error) {
	switch name {
	case "", "tags":
		return TagExtractor{}, nil
	case "readability":
		return ReadabilityExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", name)
	}
}
