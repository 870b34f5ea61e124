// ABOUTME: HTTP transport for mutating tool calls, posting JSON arguments to the owning service.
// ABOUTME: Also provides the per-service health check used by the gateway's readiness surface.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389/llm-gateway/internal/registry"
)

// DefaultHTTPTimeout bounds one HTTP tool call.
const DefaultHTTPTimeout = 30 * time.Second

// healthTimeout bounds one service health probe.
const healthTimeout = 5 * time.Second

// toolResponse is the wire shape every service returns from a tool endpoint.
type toolResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HTTPTransport executes tool calls as POST {httpBaseURL}/tools/{toolName}.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates the HTTP transport. timeout <= 0 selects the
// 30 second default.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

// Execute implements Transport.
func (t *HTTPTransport) Execute(ctx context.Context, endpoint *registry.ServiceEndpoint, tool string, args map[string]any) (json.RawMessage, error) {
	if endpoint.HTTPBaseURL == "" {
		return nil, fmt.Errorf("service %s has no HTTP endpoint", endpoint.Name)
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding arguments: %w", err)
	}

	url := endpoint.HTTPBaseURL + "/tools/" + tool
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("HTTP timeout calling %s on %s", tool, endpoint.Name)
		}
		return nil, fmt.Errorf("HTTP call to %s failed: %w", endpoint.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, endpoint.Name, data)
	}

	var out toolResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", endpoint.Name, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("service %s rejected %s: %s", endpoint.Name, tool, out.Error)
	}
	return out.Data, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ServiceHealth is the result of one health probe.
type ServiceHealth struct {
	Service        string `json:"service"`
	Healthy        bool   `json:"healthy"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CheckHealth probes GET {httpBaseURL}/health with a short timeout.
func (t *HTTPTransport) CheckHealth(ctx context.Context, endpoint *registry.ServiceEndpoint) ServiceHealth {
	health := ServiceHealth{Service: endpoint.Name}
	if endpoint.HTTPBaseURL == "" {
		health.Error = "no HTTP endpoint"
		return health
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint.HTTPBaseURL+"/health", nil)
	if err != nil {
		health.Error = err.Error()
		return health
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		health.Error = err.Error()
		return health
	}
	defer resp.Body.Close()

	health.ResponseTimeMs = time.Since(start).Milliseconds()
	if resp.StatusCode == http.StatusOK {
		health.Healthy = true
	} else {
		health.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return health
}
