// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:8080"
  read_header_timeout: "5s"

registry:
  bootstrap_path: "./tools.yaml"

llm:
  base_url: "http://localhost:11434"
  model: "llama3.2"
  timeout: "60s"

cache:
  backend: "redis"
  addr: "localhost:6379"
  db: 2
  ttl: "15m"

dispatch:
  http_timeout: "20s"
  rpc_timeout: "8s"

audit:
  path: "./audit.db"
  queue_size: 512

query:
  deadline: "90s"

stream:
  pacing: "50ms"

logging:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.ReadHeaderTimeout != 5*time.Second {
		t.Errorf("Server.ReadHeaderTimeout = %v, want 5s", cfg.Server.ReadHeaderTimeout)
	}

	if cfg.Registry.BootstrapPath != "./tools.yaml" {
		t.Errorf("Registry.BootstrapPath = %q, want %q", cfg.Registry.BootstrapPath, "./tools.yaml")
	}

	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("LLM.BaseURL = %q, want %q", cfg.LLM.BaseURL, "http://localhost:11434")
	}
	if cfg.LLM.Model != "llama3.2" {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "llama3.2")
	}
	if cfg.LLM.Timeout != 60*time.Second {
		t.Errorf("LLM.Timeout = %v, want 60s", cfg.LLM.Timeout)
	}

	if cfg.Cache.Backend != "redis" {
		t.Errorf("Cache.Backend = %q, want %q", cfg.Cache.Backend, "redis")
	}
	if cfg.Cache.Addr != "localhost:6379" {
		t.Errorf("Cache.Addr = %q, want %q", cfg.Cache.Addr, "localhost:6379")
	}
	if cfg.Cache.DB != 2 {
		t.Errorf("Cache.DB = %d, want 2", cfg.Cache.DB)
	}
	if cfg.Cache.TTL != 15*time.Minute {
		t.Errorf("Cache.TTL = %v, want 15m", cfg.Cache.TTL)
	}

	if cfg.Dispatch.HTTPTimeout != 20*time.Second {
		t.Errorf("Dispatch.HTTPTimeout = %v, want 20s", cfg.Dispatch.HTTPTimeout)
	}
	if cfg.Dispatch.RPCTimeout != 8*time.Second {
		t.Errorf("Dispatch.RPCTimeout = %v, want 8s", cfg.Dispatch.RPCTimeout)
	}

	if cfg.Audit.Path != "./audit.db" {
		t.Errorf("Audit.Path = %q, want %q", cfg.Audit.Path, "./audit.db")
	}
	if cfg.Audit.QueueSize != 512 {
		t.Errorf("Audit.QueueSize = %d, want 512", cfg.Audit.QueueSize)
	}

	if cfg.Query.Deadline != 90*time.Second {
		t.Errorf("Query.Deadline = %v, want 90s", cfg.Query.Deadline)
	}
	if cfg.Stream.Pacing != 50*time.Millisecond {
		t.Errorf("Stream.Pacing = %v, want 50ms", cfg.Stream.Pacing)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "sekrit")

	cfg, err := Parse([]byte(`
server:
  http_addr: "0.0.0.0:8080"
llm:
  base_url: "http://localhost:11434"
cache:
  backend: "redis"
  addr: "localhost:6379"
  password: "${TEST_REDIS_PASSWORD}"
audit:
  path: "./audit.db"
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Cache.Password != "sekrit" {
		t.Errorf("Cache.Password = %q, want %q", cfg.Cache.Password, "sekrit")
	}
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  http_addr: "0.0.0.0:8080"
llm:
  base_url: "http://localhost:11434"
cache:
  password: "${DEFINITELY_NOT_SET_ANYWHERE}"
audit:
  path: "./audit.db"
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Cache.Password != "" {
		t.Errorf("Cache.Password = %q, want empty", cfg.Cache.Password)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(`
server:
  http_addr: "0.0.0.0:8080"
llm:
  base_url: "http://localhost:11434"
  timeout: "sixty seconds"
audit:
  path: "./audit.db"
`))
	if err == nil {
		t.Fatal("Parse() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "llm.timeout") {
		t.Errorf("error %q should name the offending field", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing http addr",
			yaml:    "llm:\n  base_url: \"http://localhost:11434\"\naudit:\n  path: \"./a.db\"\n",
			wantErr: "server.http_addr",
		},
		{
			name:    "missing audit path",
			yaml:    "server:\n  http_addr: \":8080\"\nllm:\n  base_url: \"http://localhost:11434\"\n",
			wantErr: "audit.path",
		},
		{
			name:    "missing llm base url",
			yaml:    "server:\n  http_addr: \":8080\"\naudit:\n  path: \"./a.db\"\n",
			wantErr: "llm.base_url",
		},
		{
			name:    "redis without addr",
			yaml:    "server:\n  http_addr: \":8080\"\nllm:\n  base_url: \"http://x\"\naudit:\n  path: \"./a.db\"\ncache:\n  backend: \"redis\"\n",
			wantErr: "cache.addr",
		},
		{
			name:    "unknown cache backend",
			yaml:    "server:\n  http_addr: \":8080\"\nllm:\n  base_url: \"http://x\"\naudit:\n  path: \"./a.db\"\ncache:\n  backend: \"memcached\"\n",
			wantErr: "cache.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
