// Package toolcall decides what a generated response asks the agent to do
// next: run a tool, ask the student a question, or deliver an answer.
//
// Calls use a plain textual syntax, one string argument in double quotes:
//
//	web_search("tufts opt application")
//	get_page("https://internationalcenter.tufts.edu/")
//
// fetch_page is accepted as an alias of get_page. Calls inside fenced code
// blocks, inline code spans and "> " quoted lines are ignored so that a
// response quoting an example is not mistaken for a real request.
package toolcall

import (
	"regexp"
	"strconv"
	"strings"
)

// Tool names as they appear in generated text.
const (
	ToolWebSearch = "web_search"
	ToolGetPage   = "get_page"
	toolFetchPage = "fetch_page"
)

// ClarificationMarker ends a response that asks the student for more
// information before the question can be answered.
const ClarificationMarker = "[NEEDS_CLARIFICATION]"

// Name identifies a retrieval tool after alias resolution.
type Name string

const (
	WebSearch Name = ToolWebSearch
	FetchPage Name = toolFetchPage
)

// Outcome is the parsed meaning of one generated response. It is exactly
// one of [FinalAnswer], [ToolCall] or [NeedsClarification].
type Outcome interface {
	outcome()
}

// FinalAnswer is text to deliver to the student as-is.
type FinalAnswer struct {
	Text string
}

// ToolCall asks the agent to run a tool and generate again.
type ToolCall struct {
	Name     Name
	Argument string
}

// NeedsClarification is a follow-up question for the student, with the
// marker removed.
type NeedsClarification struct {
	Text string
}

func (FinalAnswer) outcome()        {}
func (ToolCall) outcome()           {}
func (NeedsClarification) outcome() {}

var callPattern = regexp.MustCompile(`\b(web_search|get_page|fetch_page)\("((?:[^"\\\n]|\\.)*)"\)`)

// Parse classifies a generated response. The first well-formed call wins;
// a call with an empty argument is not well-formed. When there is no call,
// a trailing [ClarificationMarker] yields NeedsClarification and anything
// else is a FinalAnswer.
func Parse(text string) Outcome {
	visible := maskQuoted(text)
	for _, m := range callPattern.FindAllStringSubmatchIndex(visible, -1) {
		name := visible[m[2]:m[3]]
		arg := strings.TrimSpace(unescape(text[m[4]:m[5]]))
		if arg == "" {
			continue
		}
		return ToolCall{Name: resolve(name), Argument: arg}
	}

	trimmed := strings.TrimSpace(text)
	if stripped, ok := strings.CutSuffix(trimmed, ClarificationMarker); ok {
		return NeedsClarification{Text: strings.TrimSpace(stripped)}
	}
	return FinalAnswer{Text: text}
}

func resolve(name string) Name {
	if name == ToolWebSearch {
		return WebSearch
	}
	return FetchPage
}

func unescape(raw string) string {
	if s, err := strconv.Unquote(`"` + raw + `"`); err == nil {
		return s
	}
	// Escapes Go does not know (\d, \/) keep the escaped character.
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
		}
		sb.WriteByte(raw[i])
	}
	return sb.String()
}

// maskQuoted returns text with fenced code blocks, inline code spans and
// quoted lines replaced by spaces. Offsets are preserved so match indexes
// apply to the original text.
func maskQuoted(text string) string {
	out := []byte(text)
	blank := func(from, to int) {
		for i := from; i < to; i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}

	inFence := false
	lineStart := 0
	for lineStart < len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}
		line := text[lineStart:lineEnd]
		trimmed := strings.TrimLeft(line, " \t")

		switch {
		case strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~"):
			inFence = !inFence
			blank(lineStart, lineEnd)
		case inFence, strings.HasPrefix(trimmed, ">"):
			blank(lineStart, lineEnd)
		default:
			maskInlineCode(out, lineStart, line)
		}
		lineStart = lineEnd + 1
	}
	return string(out)
}

// maskInlineCode blanks backtick spans within one line. An unmatched
// backtick is left alone.
func maskInlineCode(out []byte, offset int, line string) {
	for i := 0; i < len(line); {
		if line[i] != '`' {
			i++
			continue
		}
		run := 1
		for i+run < len(line) && line[i+run] == '`' {
			run++
		}
		delim := line[i : i+run]
		end := strings.Index(line[i+run:], delim)
		if end < 0 {
			i += run
			continue
		}
		stop := i + run + end + run
		for j := i; j < stop; j++ {
			out[offset+j] = ' '
		}
		i = stop
	}
}
