// ABOUTME: HTTP server exposing the websocket endpoint and the read-only REST API.
// ABOUTME: Routes: GET /ws, GET /healthz, GET /api/tools, GET /api/services, GET /api/audit/*.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/llm-gateway/internal/audit"
	"github.com/2389/llm-gateway/internal/connmgr"
	"github.com/2389/llm-gateway/internal/dispatch"
	"github.com/2389/llm-gateway/internal/registry"
)

// DefaultReadHeaderTimeout bounds how long a client may take to send headers.
const DefaultReadHeaderTimeout = 5 * time.Second

// ToolResponse is the JSON representation of one tool in GET /api/tools.
type ToolResponse struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Service     string          `json:"service"`
	Transport   string          `json:"transport"`
	Parameters  []ParamResponse `json:"parameters"`
}

// ParamResponse is the JSON representation of one tool parameter.
type ParamResponse struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ListToolsResponse is the JSON response for GET /api/tools.
type ListToolsResponse struct {
	Tools []ToolResponse `json:"tools"`
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// ServicesHealthResponse is the JSON response for GET /api/services.
type ServicesHealthResponse struct {
	Services []dispatch.ServiceHealth `json:"services"`
}

// ToolCallResponse is the JSON representation of one audit record.
type ToolCallResponse struct {
	CallID          string          `json:"call_id"`
	CallerID        string          `json:"caller_id"`
	ToolName        string          `json:"tool_name"`
	ServiceName     string          `json:"service_name"`
	Arguments       json.RawMessage `json:"arguments,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Success         bool            `json:"success"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Cached          bool            `json:"cached"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	CreatedAt       string          `json:"created_at"`
}

// StatsResponse is the JSON response for GET /api/audit/stats.
type StatsResponse struct {
	CallerID        string           `json:"caller_id"`
	TotalCalls      int64            `json:"total_calls"`
	SuccessfulCalls int64            `json:"successful_calls"`
	CacheHits       int64            `json:"cache_hits"`
	ToolCounts      map[string]int64 `json:"tool_counts"`
}

// ResetResponse is the JSON response for POST /api/conversations/{id}/reset.
type ResetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// MessageResponse is the JSON representation of one conversation turn.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

// Options configures a Server beyond its required collaborators.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
}

// Server serves websocket connections and the REST API over one listener.
type Server struct {
	registry *registry.Registry
	manager  *connmgr.Manager
	handlers *connmgr.Handlers
	auditor  audit.Store
	httpT    *dispatch.HTTPTransport
	rpcT     *dispatch.RPCTransport
	logger   *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New wires a Server. auditor may be nil to disable the audit endpoints.
func New(opts Options, reg *registry.Registry, manager *connmgr.Manager, handlers *connmgr.Handlers, auditor audit.Store, httpT *dispatch.HTTPTransport, rpcT *dispatch.RPCTransport, logger *slog.Logger) *Server {
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}

	s := &Server{
		registry: reg,
		manager:  manager,
		handlers: handlers,
		auditor:  auditor,
		httpT:    httpT,
		rpcT:     rpcT,
		logger:   logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
	return s
}

// Routes builds the HTTP mux. Exposed for tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/tools", s.handleListTools)
	mux.HandleFunc("/api/services", s.handleServicesHealth)
	mux.HandleFunc("/api/audit/calls", s.handleAuditCalls)
	mux.HandleFunc("/api/audit/stats", s.handleAuditStats)
	mux.HandleFunc("/api/conversations/", s.handleConversations)
	return mux
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleWebsocket handles GET /ws upgrade requests. The optional user_id
// query parameter attaches the connection to a user for fan-out.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	userID := r.URL.Query().Get("user_id")
	session := connmgr.NewSession(conn, userID, s.manager, s.handlers, s.logger)
	session.Run()
}

// handleHealthz handles GET /healthz requests for the gateway itself.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{
		Status:      "ok",
		Connections: s.manager.Len(),
	})
}

// handleListTools handles GET /api/tools requests.
// It returns every registered tool with its owning service and transport.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	infos := s.registry.ListTools()
	response := ListToolsResponse{Tools: make([]ToolResponse, 0, len(infos))}
	for _, info := range infos {
		params := make([]ParamResponse, 0, len(info.Tool.InputSchema))
		for _, p := range info.Tool.InputSchema {
			params = append(params, ParamResponse{
				Name:        p.Name,
				Type:        p.Type,
				Required:    p.Required,
				Description: p.Description,
			})
		}

		response.Tools = append(response.Tools, ToolResponse{
			Name:        info.Tool.Name,
			Description: info.Tool.Description,
			Service:     info.Service,
			Transport:   string(info.Tool.Transport),
			Parameters:  params,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleServicesHealth handles GET /api/services requests.
// Each registered service is probed concurrently: HTTP services via their
// /health endpoint, RPC-only services via a gRPC health ping.
func (s *Server) handleServicesHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	endpoints := s.registry.Services()
	results := make([]dispatch.ServiceHealth, len(endpoints))

	var wg sync.WaitGroup
	for i, endpoint := range endpoints {
		wg.Add(1)
		go func(i int, endpoint *registry.ServiceEndpoint) {
			defer wg.Done()
			if endpoint.HTTPBaseURL != "" {
				results[i] = s.httpT.CheckHealth(r.Context(), endpoint)
				return
			}
			results[i] = s.rpcT.Ping(r.Context(), endpoint)
		}(i, endpoint)
	}
	wg.Wait()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ServicesHealthResponse{Services: results})
}

// handleAuditCalls handles GET /api/audit/calls requests.
// Supports ?caller_id=X, ?tool=Y, and ?limit=N filters.
func (s *Server) handleAuditCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.auditor == nil {
		s.sendJSONError(w, http.StatusNotFound, "audit store not configured")
		return
	}

	limit, err := parseLimit(r, 50, 1000)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := audit.Filter{
		CallerID: r.URL.Query().Get("caller_id"),
		ToolName: r.URL.Query().Get("tool"),
	}

	records, err := s.auditor.ListToolCalls(r.Context(), filter, limit)
	if err != nil {
		s.logger.Error("failed to list tool calls", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]ToolCallResponse, len(records))
	for i, rec := range records {
		response[i] = ToolCallResponse{
			CallID:          rec.CallID,
			CallerID:        rec.CallerID,
			ToolName:        rec.ToolName,
			ServiceName:     rec.ServiceName,
			Arguments:       rec.Arguments,
			Result:          rec.Result,
			Success:         rec.Success,
			ErrorMessage:    rec.ErrorMessage,
			Cached:          rec.Cached,
			ExecutionTimeMs: rec.ExecutionTimeMs,
			CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleAuditStats handles GET /api/audit/stats?caller_id=X requests.
func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.auditor == nil {
		s.sendJSONError(w, http.StatusNotFound, "audit store not configured")
		return
	}

	callerID := r.URL.Query().Get("caller_id")
	if callerID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "caller_id query param required")
		return
	}

	stats, err := s.auditor.ToolCallStats(r.Context(), callerID)
	if err != nil {
		s.logger.Error("failed to compute stats", "error", err, "caller_id", callerID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatsResponse{
		CallerID:        callerID,
		TotalCalls:      stats.TotalCalls,
		SuccessfulCalls: stats.SuccessfulCalls,
		CacheHits:       stats.CacheHits,
		ToolCounts:      stats.ToolCounts,
	})
}

// handleConversations routes the per-conversation endpoints:
// GET /api/conversations/{id}/messages and POST /api/conversations/{id}/reset.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	prefix := "/api/conversations/"

	switch {
	case strings.HasSuffix(path, "/messages"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/messages")
		s.handleConversationMessages(w, r, id)
	case strings.HasSuffix(path, "/reset"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/reset")
		s.handleConversationReset(w, r, id)
	default:
		s.sendJSONError(w, http.StatusBadRequest, "invalid path")
	}
}

// handleConversationReset handles POST /api/conversations/{id}/reset.
// Reset succeeds only when the wired memory backend supports dropping one
// conversation; otherwise the response reports the capability is missing.
func (s *Server) handleConversationReset(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if conversationID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	resp := ResetResponse{Message: "memory reset not supported"}
	if s.handlers.ResetConversation(conversationID) {
		resp.Success = true
		resp.Message = "conversation memory reset"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleConversationMessages handles GET /api/conversations/{id}/messages.
// Returns the persisted turn history for a conversation, oldest first.
func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.auditor == nil {
		s.sendJSONError(w, http.StatusNotFound, "audit store not configured")
		return
	}
	if conversationID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	limit, err := parseLimit(r, 50, 1000)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := s.auditor.GetConversationMessages(r.Context(), conversationID, limit)
	if err != nil {
		s.logger.Error("failed to get conversation messages", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]MessageResponse, len(messages))
	for i, msg := range messages {
		response[i] = MessageResponse{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Role:           msg.Role,
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt.Format(time.RFC3339),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// parseLimit reads the optional ?limit=N query parameter.
func parseLimit(r *http.Request, def, max int) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if parsed > max {
		parsed = max
	}
	return parsed, nil
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
