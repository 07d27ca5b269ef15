package prompts

import "fmt"

// Decision tokens and the summary marker the retention decoder looks for.
const (
	RetentionStore   = "STORE"
	RetentionDiscard = "DISCARD"
	RetentionSummary = "Summary:"
)

const retentionSystemTemplate = `You decide whether a fetched web page is worth keeping in the knowledge base of an
advising assistant for international students at Tufts University.

Keep a page only if it contains durable, factual information that would help answer
future questions from international students (visa rules, deadlines, offices, procedures,
campus resources). Discard pages that are off-topic, navigation-only, outdated or
mostly advertising.

Reply in exactly this format and nothing else:
Decision: %[1]s or %[2]s
%[3]s <a self-contained summary of the useful facts, or "none" when discarding>`

// RetentionSystemPrompt returns the system prompt for the retention gate.
func RetentionSystemPrompt() string {
	return fmt.Sprintf(retentionSystemTemplate, RetentionStore, RetentionDiscard, RetentionSummary)
}

// RetentionQuery returns the classification query for one fetched page.
func RetentionQuery(question, fetched string) string {
	return fmt.Sprintf("Student question that led to this page: %s\n\n## Page text\n%s", question, fetched)
}
