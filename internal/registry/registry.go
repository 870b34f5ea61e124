// ABOUTME: Thread-safe registry mapping tool names to their owning backend services.
// ABOUTME: Populated once at bootstrap, read-mostly thereafter by the dispatcher and query processor.

package registry

import (
	"log/slog"
	"strings"
	"sync"
)

// Transport selects how a tool call reaches its service.
type Transport string

const (
	// TransportHTTP posts JSON arguments to {httpBaseURL}/tools/{name}.
	TransportHTTP Transport = "http"
	// TransportRPC invokes the tool over the service's gRPC endpoint.
	TransportRPC Transport = "rpc"
)

// Param describes one parameter of a tool's input schema.
type Param struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// ToolDefinition describes a named remote operation exposed by one service.
// Immutable after registration.
type ToolDefinition struct {
	Name        string
	Description string
	Transport   Transport
	InputSchema []Param
}

// ServiceEndpoint holds the connection details for one backend service.
// One endpoint may host many tools.
type ServiceEndpoint struct {
	Name        string
	HTTPBaseURL string
	RPCHost     string
	RPCPort     int
}

// ToolInfo is a tool annotated with its owning service endpoint,
// as returned by lookups.
type ToolInfo struct {
	Tool     *ToolDefinition
	Service  string
	Endpoint *ServiceEndpoint
}

type serviceEntry struct {
	endpoint *ServiceEndpoint
	tools    map[string]*ToolDefinition
}

// Registry maintains the mapping from tool name to owning service.
// Mutation happens at bootstrap only; readers take the read lock.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*serviceEntry
	tools    map[string]string // tool name -> service name
	order    []string          // tool names in registration order
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		services: make(map[string]*serviceEntry),
		tools:    make(map[string]string),
		logger:   logger.With("component", "registry"),
	}
}

// RegisterService adds or replaces a service and its tool set, updating the
// global tool index. Re-registering a tool name under a different service is
// last-write-wins: the previous owner loses the name. That matches the
// behavior backends rely on during rolling redeploys, so it is kept, but it
// is logged at Warn so collisions are visible.
func (r *Registry) RegisterService(name string, endpoint ServiceEndpoint, tools []*ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	endpoint.Name = name

	// Replacing a service drops its previous tools from the index first.
	if prev, ok := r.services[name]; ok {
		for toolName := range prev.tools {
			if r.tools[toolName] == name {
				delete(r.tools, toolName)
				r.removeFromOrder(toolName)
			}
		}
	}

	entry := &serviceEntry{
		endpoint: &endpoint,
		tools:    make(map[string]*ToolDefinition, len(tools)),
	}

	for _, tool := range tools {
		if tool.Transport == "" {
			tool.Transport = DefaultTransport(tool.Name)
		}
		if owner, exists := r.tools[tool.Name]; exists && owner != name {
			r.logger.Warn("tool re-registered under a different service",
				"tool", tool.Name,
				"previous_service", owner,
				"new_service", name,
			)
			r.removeFromOrder(tool.Name)
		}
		entry.tools[tool.Name] = tool
		r.tools[tool.Name] = name
		r.order = append(r.order, tool.Name)
	}

	r.services[name] = entry

	r.logger.Info("service registered",
		"service", name,
		"http_base_url", endpoint.HTTPBaseURL,
		"tool_count", len(tools),
		"total_tools", len(r.tools),
	)
}

// removeFromOrder deletes the first occurrence of name from the order slice.
// Caller must hold the write lock.
func (r *Registry) removeFromOrder(name string) {
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// FindTool returns the tool and its owning service endpoint, or false if the
// tool is not registered.
func (r *Registry) FindTool(name string) (*ToolInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	serviceName, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	entry := r.services[serviceName]
	tool, ok := entry.tools[name]
	if !ok {
		return nil, false
	}
	return &ToolInfo{
		Tool:     tool,
		Service:  serviceName,
		Endpoint: entry.endpoint,
	}, true
}

// ListTools returns every registered tool annotated with its owning service,
// in registration order.
func (r *Registry) ListTools() []*ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		serviceName, ok := r.tools[name]
		if !ok {
			continue
		}
		entry := r.services[serviceName]
		if tool, ok := entry.tools[name]; ok {
			infos = append(infos, &ToolInfo{
				Tool:     tool,
				Service:  serviceName,
				Endpoint: entry.endpoint,
			})
		}
	}
	return infos
}

// Services returns the endpoints of all registered services.
func (r *Registry) Services() []*ServiceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints := make([]*ServiceEndpoint, 0, len(r.services))
	for _, entry := range r.services {
		endpoints = append(endpoints, entry.endpoint)
	}
	return endpoints
}

// DefaultTransport guesses a transport from the tool name when the bootstrap
// file does not declare one. Read-only verb prefixes go over RPC; everything
// else mutates and goes over HTTP. Declared transports always win; this is a
// migration default for registry files that predate the transport field.
func DefaultTransport(toolName string) Transport {
	for _, prefix := range []string{"get_", "check_", "list_"} {
		if strings.HasPrefix(toolName, prefix) {
			return TransportRPC
		}
	}
	return TransportHTTP
}
