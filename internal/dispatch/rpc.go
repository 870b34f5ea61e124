// ABOUTME: gRPC transport for read-only tool calls, using a JSON codec so no per-service stubs are needed.
// ABOUTME: Maintains one shared client connection per endpoint plus short-deadline health pings.

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/2389/llm-gateway/internal/registry"
)

// executeMethod is the generic tool procedure every RPC-capable service
// exposes. The tool name travels in the request body, so one method serves
// every tool without generated stubs.
const executeMethod = "/llmgateway.ToolService/Execute"

// DefaultRPCTimeout bounds one RPC tool call.
const DefaultRPCTimeout = 10 * time.Second

// rpcPingTimeout bounds one health ping. Pings are cheap and should fail fast.
const rpcPingTimeout = 5 * time.Second

// jsonCodec lets grpc carry plain JSON frames for the generic tool method.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// executeRequest is the JSON body of one generic tool invocation.
type executeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// RPCTransport executes read-only tool calls over gRPC.
type RPCTransport struct {
	timeout time.Duration

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewRPCTransport creates the RPC transport. timeout <= 0 selects the
// 10 second default.
func NewRPCTransport(timeout time.Duration) *RPCTransport {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &RPCTransport{
		timeout: timeout,
		conns:   make(map[string]*grpc.ClientConn),
	}
}

// conn returns the shared client connection for a target, dialing lazily.
func (t *RPCTransport) conn(endpoint *registry.ServiceEndpoint) (*grpc.ClientConn, error) {
	if endpoint.RPCHost == "" || endpoint.RPCPort == 0 {
		return nil, fmt.Errorf("service %s has no RPC endpoint", endpoint.Name)
	}
	target := fmt.Sprintf("%s:%d", endpoint.RPCHost, endpoint.RPCPort)

	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	t.conns[target] = conn
	return conn, nil
}

// Execute implements Transport.
func (t *RPCTransport) Execute(ctx context.Context, endpoint *registry.ServiceEndpoint, tool string, args map[string]any) (json.RawMessage, error) {
	conn, err := t.conn(endpoint)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := &executeRequest{Tool: tool, Arguments: args}
	var resp toolResponse
	err = conn.Invoke(callCtx, executeMethod, req, &resp, grpc.CallContentSubtype("json"))
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("RPC timeout calling %s on %s", tool, endpoint.Name)
		}
		if st, ok := status.FromError(err); ok {
			return nil, fmt.Errorf("RPC error from %s: %s: %s", endpoint.Name, st.Code(), st.Message())
		}
		return nil, fmt.Errorf("RPC call to %s failed: %w", endpoint.Name, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("service %s rejected %s: %s", endpoint.Name, tool, resp.Error)
	}
	return resp.Data, nil
}

// Ping checks a service's gRPC health endpoint with a short deadline.
func (t *RPCTransport) Ping(ctx context.Context, endpoint *registry.ServiceEndpoint) ServiceHealth {
	health := ServiceHealth{Service: endpoint.Name}

	conn, err := t.conn(endpoint)
	if err != nil {
		health.Error = err.Error()
		return health
	}

	pingCtx, cancel := context.WithTimeout(ctx, rpcPingTimeout)
	defer cancel()

	start := time.Now()
	resp, err := healthpb.NewHealthClient(conn).Check(pingCtx, &healthpb.HealthCheckRequest{})
	if err != nil {
		health.Error = err.Error()
		return health
	}
	health.ResponseTimeMs = time.Since(start).Milliseconds()
	health.Healthy = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	if !health.Healthy {
		health.Error = resp.GetStatus().String()
	}
	return health
}

// Close tears down all shared client connections.
func (t *RPCTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for target, conn := range t.conns {
		conn.Close()
		delete(t.conns, target)
	}
}
