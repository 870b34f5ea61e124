// ABOUTME: Audit record types and the Store interface for dispatch observability.
// ABOUTME: Every dispatch attempt produces exactly one immutable record, cache hits included.

// Package audit persists an append-only log of tool-call attempts and
// conversation history.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Record captures one dispatch attempt. Written exactly once per attempt and
// never mutated afterwards.
type Record struct {
	CallID          string
	CallerID        string
	ConversationID  string
	MessageID       string
	ToolName        string
	ServiceName     string
	Arguments       json.RawMessage
	Result          json.RawMessage
	Success         bool
	ErrorMessage    string
	Cached          bool
	ExecutionTimeMs int64
	CreatedAt       time.Time
}

// Message is one conversational turn kept for history. The conversational
// envelope handler persists user and assistant turns best-effort.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" or "assistant"
	Content        string
	CreatedAt      time.Time
}

// Filter narrows ListToolCalls results. Zero-value fields match everything.
type Filter struct {
	CallerID string
	ToolName string
}

// Stats aggregates a caller's dispatch history.
type Stats struct {
	TotalCalls      int64
	SuccessfulCalls int64
	CacheHits       int64
	ToolCounts      map[string]int64
}

// Store is the persistence contract for audit records and conversation
// history. Implementations must be safe for concurrent use.
type Store interface {
	SaveToolCall(ctx context.Context, rec *Record) error
	ListToolCalls(ctx context.Context, filter Filter, limit int) ([]*Record, error)
	ToolCallStats(ctx context.Context, callerID string) (*Stats, error)

	SaveMessage(ctx context.Context, msg *Message) error
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	Close() error
}
