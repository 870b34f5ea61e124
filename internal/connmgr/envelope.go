// ABOUTME: Typed message envelopes exchanged over persistent connections.
// ABOUTME: Inbound types form a closed enum; decoding validates before any handler runs.

package connmgr

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates inbound envelopes. The set is closed: the
// session dispatch switch is exhaustive over these values.
type MessageType string

const (
	TypeGenerate       MessageType = "generate"
	TypeConversational MessageType = "conversational"
	TypeStream         MessageType = "stream"
	TypeMCPQuery       MessageType = "mcp_query"
)

// valid reports whether t is a known inbound type.
func (t MessageType) valid() bool {
	switch t {
	case TypeGenerate, TypeConversational, TypeStream, TypeMCPQuery:
		return true
	}
	return false
}

// ResponseType discriminates outbound envelopes.
type ResponseType string

const (
	TypeStatus        ResponseType = "status"
	TypeResponse      ResponseType = "response"
	TypeStreamStart   ResponseType = "stream_start"
	TypeStreamChunk   ResponseType = "stream_chunk"
	TypeStreamEnd     ResponseType = "stream_end"
	TypeStreamError   ResponseType = "stream_error"
	TypeMCPProcessing ResponseType = "mcp_processing"
	TypeMCPResponse   ResponseType = "mcp_response"
	TypeError         ResponseType = "error"
)

// MessageEnvelope is one inbound message on a connection.
type MessageEnvelope struct {
	Type           MessageType     `json:"type"`
	Data           json.RawMessage `json:"data"`
	MessageID      string          `json:"message_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
}

// promptData is the payload of generate, conversational, and stream messages.
type promptData struct {
	Prompt string `json:"prompt"`
}

// queryData is the payload of mcp_query messages.
type queryData struct {
	Query     string `json:"query"`
	UseMemory bool   `json:"use_conversation"`
}

// ResponseEnvelope is one outbound message on a connection.
type ResponseEnvelope struct {
	Type      ResponseType   `json:"type"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// newEnvelope creates an outbound envelope stamped with the current time.
func newEnvelope(t ResponseType, messageID string) *ResponseEnvelope {
	return &ResponseEnvelope{
		Type:      t,
		Success:   true,
		MessageID: messageID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// errorEnvelope creates a failed outbound envelope of the given type.
func errorEnvelope(t ResponseType, messageID, errMsg string) *ResponseEnvelope {
	env := newEnvelope(t, messageID)
	env.Success = false
	env.Error = errMsg
	return env
}

// decodeEnvelope validates one raw inbound frame. Malformed frames are a
// ValidationError: reported to the client, never fatal to the connection.
func decodeEnvelope(raw []byte) (*MessageEnvelope, error) {
	var env MessageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid message format: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("message type is required")
	}
	if !env.Type.valid() {
		return nil, fmt.Errorf("unsupported message type: %s", env.Type)
	}
	return &env, nil
}
