// ABOUTME: Tests for the HTTP tool transport against httptest backends.
// ABOUTME: Covers the wire contract, error statuses, rejection bodies, and health probes.

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/llm-gateway/internal/registry"
)

func TestHTTPTransportExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tools/update_user", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var args map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, "42", args["userId"])

		fmt.Fprint(w, `{"success":true,"data":{"updated":true}}`)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(time.Second)
	endpoint := &registry.ServiceEndpoint{Name: "users-svc", HTTPBaseURL: srv.URL}

	data, err := tr.Execute(context.Background(), endpoint, "update_user", map[string]any{"userId": "42"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"updated":true}`, string(data))
}

func TestHTTPTransportErrors(t *testing.T) {
	t.Run("non-success status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		tr := NewHTTPTransport(time.Second)
		_, err := tr.Execute(context.Background(), &registry.ServiceEndpoint{Name: "svc", HTTPBaseURL: srv.URL}, "t", nil)
		assert.ErrorContains(t, err, "HTTP 500")
	})

	t.Run("service-level rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"success":false,"error":"missing userId"}`)
		}))
		defer srv.Close()

		tr := NewHTTPTransport(time.Second)
		_, err := tr.Execute(context.Background(), &registry.ServiceEndpoint{Name: "svc", HTTPBaseURL: srv.URL}, "t", nil)
		assert.ErrorContains(t, err, "missing userId")
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		tr := NewHTTPTransport(50 * time.Millisecond)
		_, err := tr.Execute(context.Background(), &registry.ServiceEndpoint{Name: "svc", HTTPBaseURL: srv.URL}, "slow_tool", nil)
		assert.ErrorContains(t, err, "timeout")
	})

	t.Run("no HTTP endpoint", func(t *testing.T) {
		tr := NewHTTPTransport(time.Second)
		_, err := tr.Execute(context.Background(), &registry.ServiceEndpoint{Name: "svc"}, "t", nil)
		assert.ErrorContains(t, err, "no HTTP endpoint")
	})
}

func TestHTTPTransportCheckHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			fmt.Fprint(w, `{"status":"ok"}`)
		}))
		defer srv.Close()

		tr := NewHTTPTransport(time.Second)
		health := tr.CheckHealth(context.Background(), &registry.ServiceEndpoint{Name: "svc", HTTPBaseURL: srv.URL})
		assert.True(t, health.Healthy)
		assert.Equal(t, "svc", health.Service)
	})

	t.Run("unreachable", func(t *testing.T) {
		tr := NewHTTPTransport(time.Second)
		health := tr.CheckHealth(context.Background(), &registry.ServiceEndpoint{Name: "svc", HTTPBaseURL: "http://127.0.0.1:1"})
		assert.False(t, health.Healthy)
		assert.NotEmpty(t, health.Error)
	})
}
