// ABOUTME: Natural-language query processor: plan a tool call, act via the dispatcher, summarize.
// ABOUTME: All pipeline failures normalize into a failed Response; callers never see a panic.

// Package query turns free-text requests into structured tool calls and back
// into friendly text.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/llm-gateway/internal/dispatch"
	"github.com/2389/llm-gateway/internal/llm"
	"github.com/2389/llm-gateway/internal/registry"
)

// DefaultDeadline bounds one full process-query pipeline. The pipeline makes
// up to two completion calls plus one dispatch, so a single composed deadline
// keeps the worst case from being the sum of three independent timeouts.
const DefaultDeadline = 90 * time.Second

// Dispatcher is the slice of the dispatch client the processor needs.
type Dispatcher interface {
	Call(ctx context.Context, req dispatch.Request) dispatch.Result
}

// Request is one natural-language query to process.
type Request struct {
	Query          string
	UseMemory      bool
	CallerID       string
	ConversationID string
	MessageID      string
}

// Response is the processed outcome returned to the connection layer.
type Response struct {
	Success       bool
	ResponseText  string
	ToolUsed      string
	ServiceCalled string
	ToolResult    *dispatch.Result
	Error         string
}

// Processor implements the plan/act/summarize pipeline.
type Processor struct {
	registry   *registry.Registry
	dispatcher Dispatcher
	completer  llm.Completer
	memory     *llm.ConversationMemory
	deadline   time.Duration
	logger     *slog.Logger
}

// NewProcessor creates a query processor. deadline <= 0 selects the default
// of 90 seconds.
func NewProcessor(reg *registry.Registry, dispatcher Dispatcher, completer llm.Completer, memory *llm.ConversationMemory, deadline time.Duration, logger *slog.Logger) *Processor {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Processor{
		registry:   reg,
		dispatcher: dispatcher,
		completer:  completer,
		memory:     memory,
		deadline:   deadline,
		logger:     logger.With("component", "query"),
	}
}

// ProcessQuery runs one query through plan, act, and summarize.
func (p *Processor) ProcessQuery(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("query pipeline panicked", "panic", r)
			resp = Response{Success: false, Error: "internal error while processing the query"}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	// Plan: ask the model to either answer directly or emit a tool_call.
	prompt := p.buildPlanPrompt(req)
	planned, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		return Response{Success: false, Error: fmt.Sprintf("completion failed: %v", err)}
	}

	call, ok := extractToolCall(planned)
	if !ok {
		// No tool needed; the raw model text is the final answer.
		p.remember(req, planned)
		return Response{Success: true, ResponseText: planned}
	}

	// Act: validate against the registry before dispatching.
	if _, found := p.registry.FindTool(call.Name); !found {
		return Response{Success: false, Error: fmt.Sprintf("tool '%s' does not exist", call.Name)}
	}

	result := p.dispatcher.Call(ctx, dispatch.Request{
		ToolName:       call.Name,
		Arguments:      call.Arguments,
		CallerID:       req.CallerID,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
	})

	// Summarize: turn the structured result back into natural language.
	summary, err := p.completer.Complete(ctx, buildSummaryPrompt(req.Query, result))
	if err != nil {
		return Response{Success: false, Error: fmt.Sprintf("summary completion failed: %v", err)}
	}

	p.remember(req, summary)
	return Response{
		Success:       true,
		ResponseText:  summary,
		ToolUsed:      call.Name,
		ServiceCalled: result.Service,
		ToolResult:    &result,
	}
}

// remember records the exchange in conversation memory when requested.
func (p *Processor) remember(req Request, answer string) {
	if !req.UseMemory || p.memory == nil || req.ConversationID == "" {
		return
	}
	p.memory.Append(req.ConversationID, "user", req.Query)
	p.memory.Append(req.ConversationID, "assistant", answer)
}

// buildPlanPrompt renders the tool-aware system prompt plus the user query
// (and prior turns when memory is in use).
func (p *Processor) buildPlanPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are an assistant that can operate backend services on the user's behalf.\n")
	b.WriteString("You may use the following tools:\n\n")

	for _, info := range p.registry.ListTools() {
		fmt.Fprintf(&b, "### %s (%s service)\n", info.Tool.Name, info.Service)
		if info.Tool.Description != "" {
			fmt.Fprintf(&b, "%s\n", info.Tool.Description)
		}
		if len(info.Tool.InputSchema) == 0 {
			b.WriteString("Parameters: none\n")
		} else {
			b.WriteString("Parameters:\n")
			for _, param := range info.Tool.InputSchema {
				requirement := "optional"
				if param.Required {
					requirement = "required"
				}
				fmt.Fprintf(&b, "  - %s (%s, %s): %s\n", param.Name, param.Type, requirement, param.Description)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("If the request needs a tool, respond with a JSON object of the form\n")
	b.WriteString(`{"tool_call": {"name": "<tool>", "arguments": {"<param>": "<value>"}}}` + "\n")
	b.WriteString("Otherwise answer the user directly in plain text.\n")

	if req.UseMemory && p.memory != nil && req.ConversationID != "" {
		if history := p.memory.Render(req.ConversationID); history != "" {
			b.WriteString("\nConversation so far:\n")
			b.WriteString(history)
		}
	}

	b.WriteString("\nUser query: ")
	b.WriteString(req.Query)
	return b.String()
}

// buildSummaryPrompt asks the model to phrase the tool outcome for the user.
func buildSummaryPrompt(query string, result dispatch.Result) string {
	var b strings.Builder
	b.WriteString("The user asked: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	if result.Success {
		b.WriteString("The tool call succeeded with this result:\n")
		b.Write(result.Data)
	} else {
		b.WriteString("The tool call failed with this error:\n")
		b.WriteString(result.Error)
	}
	b.WriteString("\n\nPhrase a short, friendly, accurate answer for the user based on that outcome. Do not invent data.")
	return b.String()
}

// toolCall is the structured call extracted from model output.
type toolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type toolCallEnvelope struct {
	ToolCall *toolCall `json:"tool_call"`
}

// extractToolCall scans model output for the first balanced JSON object that
// contains a tool_call key. Models wrap the JSON in prose more often than
// not, so plain unmarshal of the whole text is not enough.
func extractToolCall(text string) (*toolCall, bool) {
	if !strings.Contains(text, "tool_call") {
		return nil, false
	}

	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		block, ok := balancedBlock(text[start:])
		if !ok {
			// No balanced object starts here; later opens are inside this
			// truncated block, so stop scanning.
			break
		}
		if !strings.Contains(block, "tool_call") {
			start += len(block) - 1
			continue
		}
		var env toolCallEnvelope
		if err := json.Unmarshal([]byte(block), &env); err == nil && env.ToolCall != nil && env.ToolCall.Name != "" {
			if env.ToolCall.Arguments == nil {
				env.ToolCall.Arguments = map[string]any{}
			}
			return env.ToolCall, true
		}
		start += len(block) - 1
	}
	return nil, false
}

// balancedBlock returns the shortest brace-balanced prefix of s, which must
// start with '{'. String literals and escapes are respected.
func balancedBlock(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '{':
			depth++
		case !inString && ch == '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
