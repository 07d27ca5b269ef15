// Package llm provides text-generation clients.
//
// The agent treats generation as a black box: a system prompt and a user
// query go in, raw text comes out. [ProxyClient] talks to an LLMProxy
// deployment (which also hosts the remote knowledge index); [OllamaClient]
// talks to a local Ollama server for development.
package llm

import (
	"context"
	"errors"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// ErrEmptyResponse is returned when the service answers successfully
// but with no text.
var ErrEmptyResponse = errors.New("empty generation response")

// Request is one generation call.
type Request struct {
	Model       string
	System      string
	Query       string
	Temperature float64

	// HistoryDepth is how many earlier exchanges in SessionID the
	// service should replay. Zero disables history.
	HistoryDepth int
	SessionID    string

	// RAGUsage lets the service augment the query from its own
	// document index. The agent loop does its own retrieval, so most
	// callers leave this false.
	RAGUsage bool
}

// Response is the generated text.
type Response struct {
	Text string
}

// Client is the interface every generation backend implements.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate calls f.
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
