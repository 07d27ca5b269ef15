package fetch

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Extractor turns a downloaded HTML document into (title, text).
type Extractor interface {
	Extract(body []byte, pageURL *url.URL) (title, text string, err error)
}

// textTags are the elements whose text the tag extractor keeps.
var textTags = map[atom.Atom]bool{
	atom.P:      true,
	atom.H1:     true,
	atom.H2:     true,
	atom.H3:     true,
	atom.H4:     true,
	atom.Ol:     true,
	atom.Ul:     true,
	atom.Li:     true,
	atom.A:      true,
	atom.Strong: true,
	atom.Em:     true,
	atom.Table:  true,
	atom.Tbody:  true,
	atom.Tr:     true,
	atom.Td:     true,
}

// skipElements are HTML elements whose content is never text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
}

// TagExtractor keeps the text of paragraph, heading, list, link, emphasis
// and table elements, one element per line in document order. Text
// outside those elements (bare divs, scripts, forms) is dropped. Nested
// matches are emitted once, as part of their outermost matching ancestor.
type TagExtractor struct{}

func (TagExtractor) Extract(body []byte, _ *url.URL) (string, string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipElements[n.DataAtom] {
				return
			}
			if textTags[n.DataAtom] {
				if text := collapse(textContent(n)); text != "" {
					lines = append(lines, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return collapse(findTitle(doc)), strings.Join(lines, "\n"), nil
}

// findTitle walks the DOM looking for a <title> element.
func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// textContent returns the text below n, separating text nodes with a
// space and skipping non-text elements.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if skipElements[n.DataAtom] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// collapse joins all whitespace runs into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
