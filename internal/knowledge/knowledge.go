// Package knowledge stores summaries the retention gate chose to keep and
// retrieves the ones relevant to a new question.
//
// Two backends implement [Store]: [SQLiteStore] keeps documents in a local
// SQLite database with a bleve ranking index, and [ProxyStore] delegates to
// the document index hosted by the LLMProxy service.
package knowledge

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Document is one retrieved entry: a summary and the chunks of it that
// matched the query.
type Document struct {
	Summary string   `json:"doc_summary"`
	Chunks  []string `json:"chunks"`
}

// Text returns the document as one block for a prompt.
func (d Document) Text() string {
	if len(d.Chunks) == 0 {
		return d.Summary
	}
	body := strings.Join(d.Chunks, "\n")
	if d.Summary == "" || strings.Contains(body, d.Summary) {
		return body
	}
	return d.Summary + "\n" + body
}

// Store is a knowledge backend.
type Store interface {
	// Retrieve returns documents relevant to query, best first.
	Retrieve(ctx context.Context, query string) ([]Document, error)

	// Store persists text for future retrieval. Storing the same text
	// twice is not an error.
	Store(ctx context.Context, text string) error
}

// None is a Store that keeps nothing.
type None struct{}

func (None) Retrieve(context.Context, string) ([]Document, error) { return nil, nil }
func (None) Store(context.Context, string) error                  { return nil }

// Chunking strategies.
const (
	StrategyFixed = "fixed"
	StrategySmart = "smart"
)

const (
	fixedChunkSize = 500
	smartChunkMax  = 1000
)

// Split breaks text into indexable chunks. "fixed" cuts at word boundaries
// near fixedChunkSize bytes; "smart" (the default) keeps paragraphs whole,
// merging short neighbours and splitting only paragraphs that are too long.
func Split(s, strategy string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strategy == StrategyFixed {
		return splitWords(s, fixedChunkSize)
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, para := range strings.Split(s, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > smartChunkMax {
			flush()
			chunks = append(chunks, splitWords(para, smartChunkMax)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+2+len(para) > smartChunkMax {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return chunks
}

func splitWords(s string, size int) []string {
	var chunks []string
	var cur strings.Builder
	for _, w := range strings.Fields(s) {
		if cur.Len() > 0 && cur.Len()+1+len(w) > size {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// PlainText renders markdown as plain text so that emphasis markers,
// link syntax and list bullets from generated summaries do not end up in
// the ranking index.
func PlainText(md string) string {
	src := []byte(md)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				sb.Write(node.Value)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					sb.Write(seg.Value(src))
				}
				sb.WriteString("\n\n")
			}
			return ast.WalkSkipChildren, nil
		default:
			if !entering {
				switch n.Kind() {
				case ast.KindTextBlock:
					sb.WriteByte('\n')
				case ast.KindListItem:
				default:
					if n.Type() == ast.TypeBlock {
						sb.WriteString("\n\n")
					}
				}
			}
		}
		return ast.WalkContinue, nil
	})

	lines := strings.Split(sb.String(), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
