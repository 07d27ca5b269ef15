// Package retrieval holds the context a single turn accumulates from the
// knowledge store and the retrieval tools, in the order it was gathered.
package retrieval

import (
	"fmt"
	"strings"
)

// Kind records where a chunk of context came from.
type Kind string

const (
	KindKnowledgeStore Kind = "knowledge_store"
	KindWebSearch      Kind = "web_search"
	KindPageFetch      Kind = "page_fetch"
)

// Chunk is one piece of retrieved text.
type Chunk struct {
	Kind   Kind   `json:"kind"`
	Source string `json:"source,omitempty"` // query or URL that produced it
	Text   string `json:"text"`
}

// Context is an ordered sequence of chunks. The zero value is empty and
// ready to use.
type Context struct {
	Chunks []Chunk `json:"chunks,omitempty"`
}

// Add appends a chunk. Empty text is dropped.
func (c *Context) Add(kind Kind, source, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.Chunks = append(c.Chunks, Chunk{Kind: kind, Source: source, Text: text})
}

// Len returns the number of chunks.
func (c *Context) Len() int {
	return len(c.Chunks)
}

// Clone returns a copy that shares no backing array with c.
func (c *Context) Clone() Context {
	out := Context{Chunks: make([]Chunk, len(c.Chunks))}
	copy(out.Chunks, c.Chunks)
	return out
}

// Render formats the context for inclusion in a generation prompt.
// Each chunk is headed by its provenance so the model can cite or weigh
// it. An empty context renders as the empty string.
func (c *Context) Render() string {
	if len(c.Chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, ch := range c.Chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if ch.Source != "" {
			fmt.Fprintf(&sb, "[%d] (%s: %s)\n", i+1, ch.Kind, ch.Source)
		} else {
			fmt.Fprintf(&sb, "[%d] (%s)\n", i+1, ch.Kind)
		}
		sb.WriteString(ch.Text)
	}
	return sb.String()
}
