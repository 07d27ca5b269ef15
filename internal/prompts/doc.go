// Package prompts contains all prompt text sent to the generation service.
//
// Prompt text is Go code rather than config files because it is program logic:
// the agent loop, the tool-call parser and the retention decoder all depend on
// the exact syntax these prompts ask the model to produce, and tests pin that
// contract. Operator-facing settings live in config.yaml.
//
// Convention: each prompt category gets its own file (agent.go, retention.go,
// enhance.go) with exported functions that accept the dynamic parts and
// return the fully interpolated prompt string.
package prompts
