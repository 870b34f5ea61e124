// ABOUTME: One handler per inbound envelope type: generate, conversational, stream, mcp_query.
// ABOUTME: Stream emits start/chunk/end (or stream_error) with pacing; mcp_query delegates to the query processor.

package connmgr

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/llm-gateway/internal/audit"
	"github.com/2389/llm-gateway/internal/llm"
	"github.com/2389/llm-gateway/internal/query"
)

// DefaultStreamPacing is the artificial delay between stream chunks,
// simulating incremental delivery when the backend returns whole words fast.
const DefaultStreamPacing = 50 * time.Millisecond

// QueryProcessor is the slice of the query pipeline the handlers need.
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, req query.Request) query.Response
}

// Handlers holds the collaborators shared by every session on a manager.
type Handlers struct {
	completer llm.Completer
	processor QueryProcessor
	memory    llm.Memory
	history   audit.Store // best-effort conversation persistence, may be nil
	pacing    time.Duration
	logger    *slog.Logger
}

// NewHandlers wires the envelope handlers. pacing <= 0 selects the 50ms
// default; history may be nil to disable turn persistence.
func NewHandlers(completer llm.Completer, processor QueryProcessor, memory llm.Memory, history audit.Store, pacing time.Duration, logger *slog.Logger) *Handlers {
	if pacing <= 0 {
		pacing = DefaultStreamPacing
	}
	return &Handlers{
		completer: completer,
		processor: processor,
		memory:    memory,
		history:   history,
		pacing:    pacing,
		logger:    logger.With("component", "handlers"),
	}
}

// ResetConversation drops the in-process prompt memory for one conversation.
// Reset is an optional capability discovered by type assertion; memory
// backends without it report false and the conversation keeps its turns.
func (h *Handlers) ResetConversation(conversationID string) bool {
	resettable, ok := h.memory.(llm.MemoryResettable)
	if !ok {
		return false
	}
	resettable.ResetMemory(conversationID)
	h.logger.Info("conversation memory reset", "conversation_id", conversationID)
	return true
}

func decodeData[T any](env *MessageEnvelope) (T, error) {
	var data T
	if len(env.Data) == 0 {
		return data, nil
	}
	err := json.Unmarshal(env.Data, &data)
	return data, err
}

// handleGenerate services a one-shot completion: one request, one response
// envelope.
func (h *Handlers) handleGenerate(ctx context.Context, s *Session, env *MessageEnvelope) {
	data, err := decodeData[promptData](env)
	if err != nil {
		s.trySend(errorEnvelope(TypeError, env.MessageID, "invalid generate payload: "+err.Error()))
		return
	}

	text, err := h.completer.Complete(ctx, data.Prompt)
	if err != nil {
		s.trySend(errorEnvelope(TypeResponse, env.MessageID, err.Error()))
		return
	}

	resp := newEnvelope(TypeResponse, env.MessageID)
	resp.Data = map[string]any{"response": text}
	s.trySend(resp)
}

// handleConversational services a completion with memory and persists both
// turns to the history store best-effort.
func (h *Handlers) handleConversational(ctx context.Context, s *Session, env *MessageEnvelope) {
	data, err := decodeData[promptData](env)
	if err != nil {
		s.trySend(errorEnvelope(TypeError, env.MessageID, "invalid conversational payload: "+err.Error()))
		return
	}

	conversationID := env.ConversationID
	if conversationID == "" {
		conversationID = "default"
	}

	h.persistTurn(ctx, conversationID, "user", data.Prompt, env.MessageID)

	prompt := data.Prompt
	if h.memory != nil {
		if history := h.memory.Render(conversationID); history != "" {
			prompt = "Conversation so far:\n" + history + "\nuser: " + data.Prompt
		}
	}

	text, err := h.completer.Complete(ctx, prompt)
	if err != nil {
		s.trySend(errorEnvelope(TypeResponse, env.MessageID, err.Error()))
		return
	}

	if h.memory != nil {
		h.memory.Append(conversationID, "user", data.Prompt)
		h.memory.Append(conversationID, "assistant", text)
	}
	h.persistTurn(ctx, conversationID, "assistant", text, uuid.New().String())

	resp := newEnvelope(TypeResponse, env.MessageID)
	resp.Data = map[string]any{"response": text}
	s.trySend(resp)
}

// persistTurn writes one conversational turn to the history store. Failures
// are logged, never surfaced.
func (h *Handlers) persistTurn(ctx context.Context, conversationID, role, content, messageID string) {
	if h.history == nil {
		return
	}
	if err := h.history.SaveMessage(ctx, &audit.Message{
		ID:             messageID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}); err != nil {
		h.logger.Warn("failed to persist conversation turn",
			"conversation_id", conversationID,
			"role", role,
			"error", err,
		)
	}
}

// handleStream services an incremental completion: stream_start, then zero
// or more stream_chunk envelopes with pacing, then stream_end. A mid-stream
// failure emits stream_error and ends only this message.
func (h *Handlers) handleStream(ctx context.Context, s *Session, env *MessageEnvelope) {
	data, err := decodeData[promptData](env)
	if err != nil {
		s.trySend(errorEnvelope(TypeError, env.MessageID, "invalid stream payload: "+err.Error()))
		return
	}

	start := newEnvelope(TypeStreamStart, env.MessageID)
	start.Message = "stream started"
	if err := s.send(start); err != nil {
		return
	}

	chunks, err := h.chunkSource(ctx, data.Prompt)
	if err != nil {
		s.trySend(errorEnvelope(TypeStreamError, env.MessageID, err.Error()))
		return
	}

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			s.trySend(errorEnvelope(TypeStreamError, env.MessageID, chunk.Err.Error()))
			return
		}
		full.WriteString(chunk.Text)

		out := newEnvelope(TypeStreamChunk, env.MessageID)
		out.Data = map[string]any{
			"chunk":         chunk.Text,
			"full_response": full.String(),
		}
		if err := s.send(out); err != nil {
			return
		}

		select {
		case <-time.After(h.pacing):
		case <-ctx.Done():
			return
		}
	}

	end := newEnvelope(TypeStreamEnd, env.MessageID)
	end.Message = "stream complete"
	end.Data = map[string]any{"full_response": full.String()}
	s.trySend(end)
}

// chunkSource streams from the backend natively when it can, and otherwise
// falls back to completing in one shot and replaying word by word. Streaming
// is an optional capability discovered by type assertion.
func (h *Handlers) chunkSource(ctx context.Context, prompt string) (<-chan llm.Chunk, error) {
	if streamer, ok := h.completer.(llm.StreamCompleter); ok {
		return streamer.Stream(ctx, prompt)
	}

	text, err := h.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		words := strings.Fields(text)
		for i, word := range words {
			if i < len(words)-1 {
				word += " "
			}
			select {
			case out <- llm.Chunk{Text: word}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// handleMCPQuery delegates a natural-language query to the query processor:
// an immediate mcp_processing acknowledgment, then exactly one mcp_response.
func (h *Handlers) handleMCPQuery(ctx context.Context, s *Session, env *MessageEnvelope) {
	data, err := decodeData[queryData](env)
	if err != nil {
		s.trySend(errorEnvelope(TypeError, env.MessageID, "invalid mcp_query payload: "+err.Error()))
		return
	}
	if strings.TrimSpace(data.Query) == "" {
		s.trySend(errorEnvelope(TypeError, env.MessageID, "query must not be empty"))
		return
	}

	processing := newEnvelope(TypeMCPProcessing, env.MessageID)
	processing.Message = "processing query"
	processing.Data = map[string]any{"query": data.Query}
	if err := s.send(processing); err != nil {
		return
	}

	callerID := env.UserID
	if callerID == "" {
		callerID = "anonymous"
	}

	result := h.processor.ProcessQuery(ctx, query.Request{
		Query:          data.Query,
		UseMemory:      data.UseMemory,
		CallerID:       callerID,
		ConversationID: env.ConversationID,
		MessageID:      env.MessageID,
	})

	if !result.Success {
		s.trySend(errorEnvelope(TypeMCPResponse, env.MessageID, result.Error))
		return
	}

	resp := newEnvelope(TypeMCPResponse, env.MessageID)
	resp.Data = map[string]any{
		"response":       result.ResponseText,
		"tool_used":      result.ToolUsed,
		"service_called": result.ServiceCalled,
	}
	if result.ToolResult != nil {
		resp.Data["raw_result"] = result.ToolResult
	}
	s.trySend(resp)
}
