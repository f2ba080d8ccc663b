// Package convo is the conversation-context collaborator: a capped list of
// recent exchanges per session, consulted when building answer prompts.
// Context is ephemeral working state, not a browsable history.
package convo

import (
	"context"
	"sync"
)

type Message struct {
	Role    string `json:"role"` // user|assistant
	Content string `json:"content"`
}

type Store interface {
	Append(ctx context.Context, sessionID string, msg Message) error
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)
	Clear(ctx context.Context, sessionID string) error
}

// MemoryStore keeps context in-process. Used when redis is not configured
// and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string][]Message
	maxLen int
}

func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 40
	}
	return &MemoryStore{byID: make(map[string][]Message), maxLen: maxLen}
}

func (m *MemoryStore) Append(_ context.Context, sessionID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := append(m.byID[sessionID], msg)
	if len(msgs) > m.maxLen {
		msgs = msgs[len(msgs)-m.maxLen:]
	}
	m.byID[sessionID] = msgs
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, sessionID string, n int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.byID[sessionID]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, sessionID)
	return nil
}
