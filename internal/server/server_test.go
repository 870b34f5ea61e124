// ABOUTME: HTTP API and websocket endpoint tests using httptest and a fake audit store.
// ABOUTME: Covers the tools dump, audit queries, health, and a full websocket round trip.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/llm-gateway/internal/audit"
	"github.com/2389/llm-gateway/internal/connmgr"
	"github.com/2389/llm-gateway/internal/dispatch"
	"github.com/2389/llm-gateway/internal/llm"
	"github.com/2389/llm-gateway/internal/registry"
)

// fakeAuditStore serves canned data and records the filters it was asked for.
type fakeAuditStore struct {
	mu       sync.Mutex
	records  []*audit.Record
	messages []*audit.Message
	stats    *audit.Stats

	lastFilter audit.Filter
	lastLimit  int
}

func (f *fakeAuditStore) SaveToolCall(context.Context, *audit.Record) error { return nil }

func (f *fakeAuditStore) ListToolCalls(_ context.Context, filter audit.Filter, limit int) ([]*audit.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	f.lastLimit = limit
	return f.records, nil
}

func (f *fakeAuditStore) ToolCallStats(_ context.Context, callerID string) (*audit.Stats, error) {
	if f.stats == nil {
		return nil, errors.New("no stats")
	}
	return f.stats, nil
}

func (f *fakeAuditStore) SaveMessage(context.Context, *audit.Message) error { return nil }

func (f *fakeAuditStore) GetConversationMessages(_ context.Context, conversationID string, limit int) ([]*audit.Message, error) {
	return f.messages, nil
}

func (f *fakeAuditStore) Close() error { return nil }

// echoCompleter answers every prompt with a fixed string.
type echoCompleter struct{ reply string }

func (c *echoCompleter) Complete(context.Context, string) (string, error) {
	return c.reply, nil
}

func newTestServer(t *testing.T, auditor audit.Store) (*Server, *registry.Registry, *connmgr.Manager) {
	t.Helper()
	logger := slog.Default()

	reg := registry.NewRegistry(logger)
	reg.RegisterService("users-svc", registry.ServiceEndpoint{HTTPBaseURL: "http://users-svc"}, []*registry.ToolDefinition{
		{
			Name:        "get_user",
			Description: "Fetch a user profile",
			InputSchema: []registry.Param{
				{Name: "userId", Type: "string", Required: true},
			},
		},
		{
			Name:        "update_user",
			Description: "Update a user profile",
			Transport:   registry.TransportHTTP,
		},
	})

	manager := connmgr.NewManager(logger)
	handlers := connmgr.NewHandlers(&echoCompleter{reply: "pong"}, nil, nil, nil, time.Millisecond, logger)

	srv := New(Options{Addr: ":0"}, reg, manager, handlers, auditor,
		dispatch.NewHTTPTransport(0), dispatch.NewRPCTransport(0), logger)
	return srv, reg, manager
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Connections)
}

func TestListTools(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListToolsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tools, 2)

	getUser := resp.Tools[0]
	assert.Equal(t, "get_user", getUser.Name)
	assert.Equal(t, "users-svc", getUser.Service)
	assert.Equal(t, "rpc", getUser.Transport, "get_ prefix defaults to rpc")
	require.Len(t, getUser.Parameters, 1)
	assert.Equal(t, "userId", getUser.Parameters[0].Name)
	assert.True(t, getUser.Parameters[0].Required)

	updateUser := resp.Tools[1]
	assert.Equal(t, "http", updateUser.Transport, "declared transport wins")
}

func TestAuditCalls(t *testing.T) {
	store := &fakeAuditStore{records: []*audit.Record{
		{
			CallID:    "call-1",
			CallerID:  "user-1",
			ToolName:  "get_user",
			Success:   true,
			Cached:    true,
			CreatedAt: time.Now(),
		},
	}}
	srv, _, _ := newTestServer(t, store)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/calls?caller_id=user-1&tool=get_user&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []ToolCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "call-1", resp[0].CallID)
	assert.True(t, resp[0].Cached)

	assert.Equal(t, audit.Filter{CallerID: "user-1", ToolName: "get_user"}, store.lastFilter)
	assert.Equal(t, 10, store.lastLimit)
}

func TestAuditCallsBadLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeAuditStore{})

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/calls?limit=-3", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditStats(t *testing.T) {
	store := &fakeAuditStore{stats: &audit.Stats{
		TotalCalls:      5,
		SuccessfulCalls: 4,
		CacheHits:       2,
		ToolCounts:      map[string]int64{"get_user": 5},
	}}
	srv, _, _ := newTestServer(t, store)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/stats?caller_id=user-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(5), resp.TotalCalls)
	assert.Equal(t, int64(2), resp.CacheHits)
	assert.Equal(t, int64(5), resp.ToolCounts["get_user"])
}

func TestAuditStatsRequiresCaller(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeAuditStore{})

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/stats", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditEndpointsWithoutStore(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	for _, path := range []string{"/api/audit/calls", "/api/audit/stats?caller_id=x"} {
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestConversationMessages(t *testing.T) {
	store := &fakeAuditStore{messages: []*audit.Message{
		{ID: "m-1", ConversationID: "conv-1", Role: "user", Content: "hi", CreatedAt: time.Now()},
		{ID: "m-2", ConversationID: "conv-1", Role: "assistant", Content: "hello", CreatedAt: time.Now()},
	}}
	srv, _, _ := newTestServer(t, store)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "user", resp[0].Role)
	assert.Equal(t, "assistant", resp[1].Role)
}

func TestConversationMessagesBadPath(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeAuditStore{})

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations//messages", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationReset(t *testing.T) {
	logger := slog.Default()
	memory := llm.NewConversationMemory(10)
	memory.Append("conv-1", "user", "hi")

	handlers := connmgr.NewHandlers(&echoCompleter{reply: "pong"}, nil, memory, nil, time.Millisecond, logger)
	srv := New(Options{Addr: ":0"}, registry.NewRegistry(logger), connmgr.NewManager(logger), handlers, nil,
		dispatch.NewHTTPTransport(0), dispatch.NewRPCTransport(0), logger)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ResetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Empty(t, memory.History("conv-1"), "reset drops the retained turns")
}

func TestConversationResetUnsupported(t *testing.T) {
	// newTestServer wires handlers without a memory backend.
	srv, _, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ResetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "not supported")
}

func TestConversationResetRequiresPost(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/reset", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeAuditStore{})

	for _, path := range []string{"/healthz", "/api/tools", "/api/services", "/api/audit/calls"} {
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}")))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	srv, _, manager := newTestServer(t, nil)

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user_id=user-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Welcome envelope arrives first.
	var welcome connmgr.ResponseEnvelope
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, connmgr.TypeStatus, welcome.Type)
	assert.Equal(t, "user-1", welcome.Data["user_id"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":       "generate",
		"data":       map[string]any{"prompt": "ping"},
		"message_id": "m-1",
	}))

	var resp connmgr.ResponseEnvelope
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, connmgr.TypeResponse, resp.Type)
	assert.Equal(t, "pong", resp.Data["response"])
	assert.Equal(t, "m-1", resp.MessageID)

	conn.Close()
	require.Eventually(t, func() bool { return manager.Len() == 0 },
		2*time.Second, 10*time.Millisecond, "disconnect removes the session")
}
