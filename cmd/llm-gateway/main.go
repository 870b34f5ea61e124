// ABOUTME: Entry point for the llm-gateway server
// ABOUTME: Bridges conversational clients to backend tool services over websockets

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/llm-gateway/internal/audit"
	"github.com/2389/llm-gateway/internal/cache"
	"github.com/2389/llm-gateway/internal/config"
	"github.com/2389/llm-gateway/internal/connmgr"
	"github.com/2389/llm-gateway/internal/dispatch"
	"github.com/2389/llm-gateway/internal/llm"
	"github.com/2389/llm-gateway/internal/query"
	"github.com/2389/llm-gateway/internal/registry"
	"github.com/2389/llm-gateway/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ _                            _
| | |_ __ ___         __ _  __ _| |_ _____      ____ _ _   _
| | | '_ ` + "`" + ` _ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | | | | | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|_|_| |_| |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                     |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: LLM_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/llm-gateway/config.yaml > ~/.config/llm-gateway/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LLM_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "llm-gateway", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: llm-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the gateway server")
		fmt.Println("  tools      List tools registered on a running gateway")
		fmt.Println("  health     Check gateway health")
		fmt.Println("  version    Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "tools":
		err = runTools(ctx)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("LLM:     %s (%s)\n", cfg.LLM.BaseURL, cfg.LLM.Model)
	green.Print("    ▶ ")
	cacheBackend := cfg.Cache.Backend
	if cacheBackend == "" {
		cacheBackend = "memory"
	}
	fmt.Printf("Cache:   %s\n", cacheBackend)
	fmt.Println()

	logger.Info("starting llm-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"cache_backend", cacheBackend,
	)

	// Tool registry, bootstrapped from the services file when configured.
	reg := registry.NewRegistry(logger)
	if cfg.Registry.BootstrapPath != "" {
		if err := reg.LoadFile(cfg.Registry.BootstrapPath); err != nil {
			return fmt.Errorf("loading tool registry: %w", err)
		}
		logger.Info("tool registry loaded",
			"path", cfg.Registry.BootstrapPath,
			"tools", len(reg.ListTools()),
		)
	}

	// Result cache.
	var cacheStore cache.Store
	if cacheBackend == "redis" {
		cacheStore, err = cache.NewRedis(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	} else {
		cacheStore = cache.NewMemory()
	}
	defer cacheStore.Close()

	// Audit store and its async writer.
	auditStore, err := audit.NewSQLiteStore(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("opening audit database: %w", err)
	}
	defer auditStore.Close()

	auditWriter := audit.NewWriter(auditStore, cfg.Audit.QueueSize, logger)

	// Dispatch pipeline.
	httpTransport := dispatch.NewHTTPTransport(cfg.Dispatch.HTTPTimeout)
	rpcTransport := dispatch.NewRPCTransport(cfg.Dispatch.RPCTimeout)
	defer rpcTransport.Close()

	dispatcher := dispatch.NewClient(reg, cacheStore, auditWriter, httpTransport, rpcTransport,
		dispatch.Options{CacheTTL: cfg.Cache.TTL}, logger)

	// Language model backend and conversation memory.
	completer := llm.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout, logger)
	memory := llm.NewConversationMemory(0)

	processor := query.NewProcessor(reg, dispatcher, completer, memory, cfg.Query.Deadline, logger)

	// Connection layer.
	manager := connmgr.NewManager(logger)
	handlers := connmgr.NewHandlers(completer, processor, memory, auditStore, cfg.Stream.Pacing, logger)

	srv := server.New(server.Options{
		Addr:              cfg.Server.HTTPAddr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}, reg, manager, handlers, auditStore, httpTransport, rpcTransport, logger)

	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	wg.Wait()

	// Drain pending audit records before the store closes.
	auditWriter.Close()

	logger.Info("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runTools(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/tools", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("tools request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tools request failed: status %d", resp.StatusCode)
	}

	var tools server.ListToolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(tools.Tools) == 0 {
		fmt.Println("no tools registered")
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, tool := range tools.Tools {
		cyan.Printf("%s", tool.Name)
		gray.Printf("  [%s via %s]\n", tool.Service, tool.Transport)
		if tool.Description != "" {
			fmt.Printf("    %s\n", tool.Description)
		}
		for _, p := range tool.Parameters {
			marker := ""
			if p.Required {
				marker = " (required)"
			}
			gray.Printf("    - %s: %s%s\n", p.Name, p.Type, marker)
		}
	}
	return nil
}
