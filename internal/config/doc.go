// Package config handles configuration loading for llm-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	cache:
//	  password: "${REDIS_PASSWORD}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	cache:
//	  ttl: "15m"
//	query:
//	  deadline: "90s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # websocket and API endpoints
//	  read_header_timeout: "5s"
//
// Tool registry bootstrap:
//
//	registry:
//	  bootstrap_path: "./tools.yaml"
//
// Language model backend:
//
//	llm:
//	  base_url: "http://localhost:11434"
//	  model: "llama3.2"
//	  timeout: "60s"
//
// Result cache:
//
//	cache:
//	  backend: "redis"      # memory (default) or redis
//	  addr: "localhost:6379"
//	  password: "${REDIS_PASSWORD}"
//	  db: 0
//	  ttl: "15m"
//
// Backend service transports:
//
//	dispatch:
//	  http_timeout: "30s"   # one HTTP tool call
//	  rpc_timeout: "10s"    # one RPC tool call
//
// Audit database:
//
//	audit:
//	  path: "/var/lib/llm-gateway/audit.db"
//	  queue_size: 256
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/llm-gateway/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
