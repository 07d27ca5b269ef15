package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eduparlema/llmproxy-chatbot/internal/httpkit"
)

// ProxyClient talks to an LLMProxy endpoint. Every call is a JSON POST
// with an "action" field; the same endpoint serves chat, document
// retrieval and document upload.
type ProxyClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProxyClient creates a client for the given endpoint URL.
func NewProxyClient(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *ProxyClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type proxyChatRequest struct {
	Action      string  `json:"action"`
	Model       string  `json:"model"`
	System      string  `json:"system"`
	Query       string  `json:"query"`
	Temperature float64 `json:"temperature"`
	LastK       int     `json:"lastk"`
	SessionID   string  `json:"session_id"`
	RAGUsage    bool    `json:"rag_usage"`
}

type proxyChatResponse struct {
	Result   string `json:"result"`
	Response string `json:"response"` // older deployments
}

// Generate sends a chat action.
func (c *ProxyClient) Generate(ctx context.Context, req Request) (*Response, error) {
	payload := proxyChatRequest{
		Action:      "chat",
		Model:       req.Model,
		System:      req.System,
		Query:       req.Query,
		Temperature: req.Temperature,
		LastK:       req.HistoryDepth,
		SessionID:   req.SessionID,
		RAGUsage:    req.RAGUsage,
	}

	var out proxyChatResponse
	if err := c.post(ctx, payload, &out); err != nil {
		return nil, fmt.Errorf("llmproxy chat: %w", err)
	}

	text := out.Result
	if text == "" {
		text = out.Response
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("llmproxy chat: %w", ErrEmptyResponse)
	}
	return &Response{Text: text}, nil
}

// Document is one entry returned by the remote retrieve action.
type Document struct {
	Summary string   `json:"doc_summary"`
	Chunks  []string `json:"chunks"`
}

type proxyRetrieveRequest struct {
	Action       string  `json:"action"`
	SessionID    string  `json:"session_id"`
	Query        string  `json:"query"`
	RAGThreshold float64 `json:"rag_threshold"`
	RAGK         int     `json:"rag_k"`
}

// Retrieve queries the proxy's document index for the session.
func (c *ProxyClient) Retrieve(ctx context.Context, sessionID, query string, threshold float64, k int) ([]Document, error) {
	payload := proxyRetrieveRequest{
		Action:       "retrieve",
		SessionID:    sessionID,
		Query:        query,
		RAGThreshold: threshold,
		RAGK:         k,
	}

	var docs []Document
	if err := c.post(ctx, payload, &docs); err != nil {
		return nil, fmt.Errorf("llmproxy retrieve: %w", err)
	}
	return docs, nil
}

type proxyAddRequest struct {
	Action      string `json:"action"`
	Type        string `json:"type"`
	Text        string `json:"text"`
	Strategy    string `json:"strategy"`
	Description string `json:"description"`
	SessionID   string `json:"session_id"`
}

// AddText uploads text into the proxy's document index for the session.
func (c *ProxyClient) AddText(ctx context.Context, sessionID, text, strategy, description string) error {
	payload := proxyAddRequest{
		Action:      "add",
		Type:        "text",
		Text:        text,
		Strategy:    strategy,
		Description: description,
		SessionID:   sessionID,
	}
	if err := c.post(ctx, payload, nil); err != nil {
		return fmt.Errorf("llmproxy add: %w", err)
	}
	return nil
}

func (c *ProxyClient) post(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "llmproxy request", "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
