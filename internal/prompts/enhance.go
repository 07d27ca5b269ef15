package prompts

const enhanceSystemTemplate = `You are assisting a chatbot that advises Tufts international students.
Given a question or draft search from a student, generate a concise and effective Google
search query that retrieves the best information from the web.
Respond only with the query, no extra text and no quotes. Keep it short and relevant.`

// EnhanceSystemPrompt returns the system prompt that rewrites a question
// into a web search query.
func EnhanceSystemPrompt() string {
	return enhanceSystemTemplate
}
