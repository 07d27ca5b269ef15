// Package session holds per-user conversation state between turns.
//
// A user is either idle or waiting to answer a clarifying question. Only
// the waiting state is stored; a missing entry reads as idle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/eduparlema/llmproxy-chatbot/internal/retrieval"
)

// Phase is where a user's conversation stands.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseAwaitingClarification Phase = "awaiting_clarification"
)

// State is one user's conversation state. PendingQuery and
// PendingContext are set only while awaiting clarification.
type State struct {
	Phase          Phase             `json:"phase"`
	PendingQuery   string            `json:"pending_query,omitempty"`
	PendingContext retrieval.Context `json:"pending_context"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Awaiting reports whether the user owes an answer to a clarifying
// question.
func (s State) Awaiting() bool {
	return s.Phase == PhaseAwaitingClarification
}

// Expired reports whether a suspended state is older than ttl. A zero ttl
// never expires.
func (s State) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && s.Awaiting() && now.Sub(s.CreatedAt) > ttl
}

// Store persists State by user ID. Implementations must be safe for
// concurrent use; callers serialise turns for one user with [Locks].
type Store interface {
	// Get returns the user's state, or an idle State if none is stored.
	Get(ctx context.Context, userID string) (State, error)
	Put(ctx context.Context, userID string, st State) error
	Clear(ctx context.Context, userID string) error
}

// MemoryStore is a process-local Store. State is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[userID]
	if !ok {
		return State{Phase: PhaseIdle}, nil
	}
	st.PendingContext = st.PendingContext.Clone()
	return st, nil
}

func (m *MemoryStore) Put(_ context.Context, userID string, st State) error {
	st.PendingContext = st.PendingContext.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userID] = st
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

// Len returns the number of stored states.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
