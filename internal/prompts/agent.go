package prompts

import (
	"fmt"
	"strings"

	"github.com/eduparlema/llmproxy-chatbot/internal/toolcall"
)

// advisingScope lists what the advisor covers. It is shown to students
// whose question falls outside it.
const advisingScope = `- Immigration and Visa Assistance: guidance on obtaining and maintaining valid U.S. immigration status.
- Orientation Programs: help with the transition to Tufts and the surrounding community.
- Cultural and Educational Events: information about upcoming events.
- Practical Support: housing, navigating U.S. systems, and accessing campus resources.`

const agentSystemTemplate = `You are Jumbo, an advising assistant for international students at Tufts University.
Answer accurately and concisely. Prefer short, clear answers over long and confusing ones.
Base your answer on the context you are given. If the context does not contain the
information, say you are unsure rather than guessing.

## Tools
You may request ONE tool per reply. To use a tool, reply with exactly one call and nothing
else that looks like a call:
- %[1]s("<search query>") searches the web and returns titles, links and snippets.
- %[2]s("<url>") downloads a page and returns its text. Use it on a promising link from a
  search result when the snippet is not enough.

After each tool call you will receive the result as additional context. Do not put tool
calls inside code blocks or quotes; they will be ignored there.

## Clarification
If the question is too ambiguous to answer or search for (for example it depends on the
student's visa type or program), ask a short follow-up question and end your reply with
%[3]s on its own. Do not ask for clarification when the context already answers
the question.

## Off-topic questions
If the question is unrelated to advising, answer it briefly and then mention that you are
an advising assistant who can help with:
%[4]s`

// AgentSystemPrompt returns the system prompt for the main tool loop. It
// teaches the tool-call syntax and the clarification marker the parser
// recognizes.
func AgentSystemPrompt() string {
	return fmt.Sprintf(agentSystemTemplate,
		toolcall.ToolWebSearch, toolcall.ToolGetPage, toolcall.ClarificationMarker, advisingScope)
}

// AgentQuery returns the per-iteration user message: the student's question,
// everything retrieved so far, and how many tool calls remain. When no tool
// calls remain the model is told to answer from what it has.
func AgentQuery(question, renderedContext string, toolsRemaining int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Student question: %s\n\n", question)

	sb.WriteString("## Context\n")
	if strings.TrimSpace(renderedContext) == "" {
		sb.WriteString("(nothing retrieved yet)\n")
	} else {
		sb.WriteString(renderedContext)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	if toolsRemaining > 0 {
		fmt.Fprintf(&sb, "You may make up to %d more tool call(s). Answer directly if the context is sufficient.", toolsRemaining)
	} else {
		sb.WriteString("No tool calls remain. Answer using only the context above.")
	}
	return sb.String()
}

const resumeSystemTemplate = `You are Jumbo, an advising assistant for international students at Tufts University.
Earlier you asked the student a clarifying question. Combine their original question,
their reply, and the context gathered so far into one accurate, concise answer.
Do not call tools and do not ask further questions. If the context does not contain the
information, say you are unsure.`

// ResumeSystemPrompt returns the system prompt for the single generation
// call that answers a clarified question.
func ResumeSystemPrompt() string {
	return resumeSystemTemplate
}

// ResumeQuery merges the suspended question, its saved context and the
// student's clarification into one query.
func ResumeQuery(originalQuestion, renderedContext, clarification string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original question: %s\n", originalQuestion)
	fmt.Fprintf(&sb, "Student's clarification: %s\n\n", clarification)
	sb.WriteString("## Context\n")
	if strings.TrimSpace(renderedContext) == "" {
		sb.WriteString("(none)")
	} else {
		sb.WriteString(renderedContext)
	}
	return sb.String()
}
