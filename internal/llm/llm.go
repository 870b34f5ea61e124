// ABOUTME: Interfaces for the opaque text-completion capability the gateway fronts.
// ABOUTME: Optional capabilities (streaming, memory reset) are separate interfaces checked by assertion.

// Package llm abstracts the text-completion backend. The gateway treats the
// model as opaque: given a prompt, return text.
package llm

import "context"

// Completer produces one completion for one prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Chunk is one increment of a streamed completion.
type Chunk struct {
	Text string
	Err  error // terminal; no further chunks follow a non-nil Err
}

// StreamCompleter is implemented by backends that can deliver completions
// incrementally. The returned channel is closed when generation finishes or
// after a chunk with a non-nil Err.
type StreamCompleter interface {
	Stream(ctx context.Context, prompt string) (<-chan Chunk, error)
}

// Memory is the prompt-memory contract conversation-aware callers depend on.
// ConversationMemory is the standard implementation.
type Memory interface {
	Append(conversationID, role, content string)
	Render(conversationID string) string
}

// MemoryResettable is implemented by memory backends that can drop the state
// of one conversation. Callers check for this capability with a type
// assertion rather than reflection.
type MemoryResettable interface {
	ResetMemory(conversationID string)
}
