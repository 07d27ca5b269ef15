package prompts

// EscalationFallback is returned when a turn cannot produce an answer:
// the tool budget ran out, generation failed, or the turn timed out.
const EscalationFallback = "I'm sorry, I wasn't able to find a reliable answer to that. " +
	"Please contact the International Center directly at intlcenter@tufts.edu " +
	"so an advisor can help you."

// ClarificationExpiredNotice prefixes the answer when a pending
// clarification was too old to resume and the message was treated as a
// new question.
const ClarificationExpiredNotice = "(Your earlier question timed out, so I treated this as a new question.)\n\n"
