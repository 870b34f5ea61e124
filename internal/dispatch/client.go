// ABOUTME: Dispatching client that resolves, transports, caches, and audits one tool invocation.
// ABOUTME: All failures below this boundary normalize into a failed Result; nothing panics past it.

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/llm-gateway/internal/audit"
	"github.com/2389/llm-gateway/internal/cache"
	"github.com/2389/llm-gateway/internal/registry"
)

// Request identifies one tool invocation.
type Request struct {
	ToolName       string
	Arguments      map[string]any
	CallerID       string
	ConversationID string
	MessageID      string
}

// Result is the outcome of one dispatch attempt.
type Result struct {
	Success   bool
	Data      json.RawMessage
	Error     string
	Cached    bool
	LatencyMs int64
	Service   string
	Tool      string
}

// Transport executes a resolved tool call against a service endpoint and
// returns the service's data payload.
type Transport interface {
	Execute(ctx context.Context, endpoint *registry.ServiceEndpoint, tool string, args map[string]any) (json.RawMessage, error)
}

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	CacheTTL time.Duration // default cache.DefaultTTL
}

// Client coordinates registry lookup, transport selection, caching, and audit
// logging for tool calls.
type Client struct {
	registry *registry.Registry
	cache    cache.Store
	auditor  *audit.Writer
	http     Transport
	rpc      Transport
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewClient creates a dispatching client over the given collaborators.
func NewClient(reg *registry.Registry, cacheStore cache.Store, auditor *audit.Writer, httpTransport, rpcTransport Transport, opts Options, logger *slog.Logger) *Client {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Client{
		registry: reg,
		cache:    cacheStore,
		auditor:  auditor,
		http:     httpTransport,
		rpc:      rpcTransport,
		cacheTTL: ttl,
		logger:   logger.With("component", "dispatch"),
	}
}

// Call executes one tool invocation. Transport, cache, and audit failures
// never escape as errors: the caller always receives a Result. Exactly one
// audit record is written per attempt, cache hits included; the single
// exception is an unknown tool, where no call occurred.
func (c *Client) Call(ctx context.Context, req Request) Result {
	start := time.Now()
	argsHash := cache.Key(req.ToolName, req.Arguments)

	if payload, ok := c.cacheLookup(ctx, req.ToolName, argsHash); ok {
		result := Result{
			Success:   true,
			Data:      payload,
			Cached:    true,
			LatencyMs: time.Since(start).Milliseconds(),
			Tool:      req.ToolName,
		}
		if info, found := c.registry.FindTool(req.ToolName); found {
			result.Service = info.Service
		}
		c.audit(req, result)
		c.logger.Debug("cache hit", "tool", req.ToolName, "args_hash", argsHash)
		return result
	}

	info, found := c.registry.FindTool(req.ToolName)
	if !found {
		// No dispatch happened, so no audit record either.
		return Result{
			Success:   false,
			Error:     fmt.Sprintf("tool '%s' not found", req.ToolName),
			Tool:      req.ToolName,
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	for _, p := range info.Tool.InputSchema {
		if !p.Required {
			continue
		}
		if _, ok := req.Arguments[p.Name]; !ok {
			// Validation failures never reach a service, so no audit record.
			return Result{
				Success:   false,
				Error:     fmt.Sprintf("missing required argument '%s' for tool '%s'", p.Name, req.ToolName),
				Tool:      req.ToolName,
				Service:   info.Service,
				LatencyMs: time.Since(start).Milliseconds(),
			}
		}
	}

	transport := c.http
	if info.Tool.Transport == registry.TransportRPC {
		transport = c.rpc
	}

	payload, err := transport.Execute(ctx, info.Endpoint, req.ToolName, req.Arguments)
	result := Result{
		Cached:    false,
		LatencyMs: time.Since(start).Milliseconds(),
		Service:   info.Service,
		Tool:      req.ToolName,
	}
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		c.logger.Error("tool call failed",
			"tool", req.ToolName,
			"service", info.Service,
			"error", err,
		)
	} else {
		result.Success = true
		result.Data = payload
		if cerr := c.cache.Set(ctx, req.ToolName, argsHash, payload, c.cacheTTL); cerr != nil {
			// Cache write failures are soft: log and move on.
			c.logger.Warn("cache write failed", "tool", req.ToolName, "error", cerr)
		}
	}

	c.audit(req, result)
	return result
}

// cacheLookup returns the cached payload when present. Cache read failures
// degrade to a miss.
func (c *Client) cacheLookup(ctx context.Context, tool, argsHash string) (json.RawMessage, bool) {
	payload, ok, err := c.cache.Get(ctx, tool, argsHash)
	if err != nil {
		c.logger.Warn("cache lookup failed", "tool", tool, "error", err)
		return nil, false
	}
	return payload, ok
}

// audit enqueues exactly one record for a completed dispatch attempt.
func (c *Client) audit(req Request, result Result) {
	args, err := json.Marshal(req.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	c.auditor.Enqueue(&audit.Record{
		CallID:          uuid.New().String(),
		CallerID:        req.CallerID,
		ConversationID:  req.ConversationID,
		MessageID:       req.MessageID,
		ToolName:        req.ToolName,
		ServiceName:     result.Service,
		Arguments:       args,
		Result:          result.Data,
		Success:         result.Success,
		ErrorMessage:    result.Error,
		Cached:          result.Cached,
		ExecutionTimeMs: result.LatencyMs,
		CreatedAt:       time.Now(),
	})
}
