package knowledge

import (
	"context"
	"time"

	"github.com/eduparlema/llmproxy-chatbot/internal/llm"
)

// ProxyStore uses the document index of an LLMProxy session.
type ProxyStore struct {
	client    *llm.ProxyClient
	sessionID string
	threshold float64
	topK      int
	strategy  string
}

// NewProxyStore creates a store over the given proxy session.
func NewProxyStore(client *llm.ProxyClient, sessionID string, threshold float64, topK int, strategy string) *ProxyStore {
	if topK <= 0 {
		topK = 5
	}
	if strategy == "" {
		strategy = StrategySmart
	}
	return &ProxyStore{
		client:    client,
		sessionID: sessionID,
		threshold: threshold,
		topK:      topK,
		strategy:  strategy,
	}
}

func (p *ProxyStore) Retrieve(ctx context.Context, query string) ([]Document, error) {
	remote, err := p.client.Retrieve(ctx, p.sessionID, query, p.threshold, p.topK)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(remote))
	for _, d := range remote {
		docs = append(docs, Document{Summary: d.Summary, Chunks: d.Chunks})
	}
	return docs, nil
}

func (p *ProxyStore) Store(ctx context.Context, text string) error {
	desc := "retained advising summary " + time.Now().UTC().Format(time.DateOnly)
	return p.client.AddText(ctx, p.sessionID, PlainText(text), p.strategy, desc)
}
