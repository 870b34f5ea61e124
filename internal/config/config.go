// ABOUTME: Configuration loading and parsing for llm-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete llm-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Registry RegistryConfig `yaml:"registry"`
	LLM      LLMConfig      `yaml:"llm"`
	Cache    CacheConfig    `yaml:"cache"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Audit    AuditConfig    `yaml:"audit"`
	Query    QueryConfig    `yaml:"query"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	ReadHeaderTimeout time.Duration `yaml:"-"`

	ReadHeaderTimeoutRaw string `yaml:"read_header_timeout"`
}

// RegistryConfig points at the tool bootstrap file loaded on startup.
type RegistryConfig struct {
	BootstrapPath string `yaml:"bootstrap_path"`
}

// LLMConfig holds language model backend configuration
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// CacheConfig selects and configures the result cache backend.
// Backend is "memory" or "redis"; empty selects memory.
type CacheConfig struct {
	Backend  string `yaml:"backend"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// DispatchConfig tunes the transports used to reach backend services.
// Zero values select the transport defaults (30s HTTP, 10s RPC).
type DispatchConfig struct {
	HTTPTimeout time.Duration `yaml:"-"`
	RPCTimeout  time.Duration `yaml:"-"`

	HTTPTimeoutRaw string `yaml:"http_timeout"`
	RPCTimeoutRaw  string `yaml:"rpc_timeout"`
}

// AuditConfig holds audit database configuration
type AuditConfig struct {
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

// QueryConfig holds query pipeline configuration
type QueryConfig struct {
	Deadline time.Duration `yaml:"-"`

	DeadlineRaw string `yaml:"deadline"`
}

// StreamConfig holds streaming delivery configuration
type StreamConfig struct {
	Pacing time.Duration `yaml:"-"`

	PacingRaw string `yaml:"pacing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required")
	}

	switch c.Cache.Backend {
	case "", "memory":
	case "redis":
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be \"memory\" or \"redis\", got %q", c.Cache.Backend)
	}

	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_header_timeout", cfg.Server.ReadHeaderTimeoutRaw, &cfg.Server.ReadHeaderTimeout},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
		{"dispatch.http_timeout", cfg.Dispatch.HTTPTimeoutRaw, &cfg.Dispatch.HTTPTimeout},
		{"dispatch.rpc_timeout", cfg.Dispatch.RPCTimeoutRaw, &cfg.Dispatch.RPCTimeout},
		{"query.deadline", cfg.Query.DeadlineRaw, &cfg.Query.Deadline},
		{"stream.pacing", cfg.Stream.PacingRaw, &cfg.Stream.Pacing},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
