// ABOUTME: In-process conversation memory buffer keyed by conversation id.
// ABOUTME: Renders prior turns into prompt text and supports per-conversation reset.

package llm

import (
	"fmt"
	"strings"
	"sync"
)

// defaultMaxTurns caps how many prior turns a conversation keeps in memory.
const defaultMaxTurns = 20

// Turn is one prior exchange kept in conversation memory.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// ConversationMemory keeps a bounded window of recent turns per conversation.
// It is the gateway's in-process working memory; durable history lives in the
// audit store.
type ConversationMemory struct {
	mu       sync.RWMutex
	turns    map[string][]Turn
	maxTurns int
}

// NewConversationMemory creates a memory buffer. maxTurns <= 0 selects the
// default window of 20 turns.
func NewConversationMemory(maxTurns int) *ConversationMemory {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &ConversationMemory{
		turns:    make(map[string][]Turn),
		maxTurns: maxTurns,
	}
}

// Append records a turn, evicting the oldest once the window is full.
func (m *ConversationMemory) Append(conversationID, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := append(m.turns[conversationID], Turn{Role: role, Content: content})
	if len(turns) > m.maxTurns {
		turns = turns[len(turns)-m.maxTurns:]
	}
	m.turns[conversationID] = turns
}

// History returns the retained turns for a conversation, oldest first.
func (m *ConversationMemory) History(conversationID string) []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Turn(nil), m.turns[conversationID]...)
}

// Render formats the retained turns as prompt text.
func (m *ConversationMemory) Render(conversationID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.turns[conversationID]
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return b.String()
}

// ResetMemory implements MemoryResettable.
func (m *ConversationMemory) ResetMemory(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, conversationID)
}
