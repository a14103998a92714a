// Tarsy server — receives operational alerts, routes each through its
// configured agent chain, and records the full investigation audit trail.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tarsy-oss/tarsy/pkg/agent"
	"github.com/tarsy-oss/tarsy/pkg/agent/controller"
	"github.com/tarsy-oss/tarsy/pkg/agent/prompt"
	"github.com/tarsy-oss/tarsy/pkg/api"
	"github.com/tarsy-oss/tarsy/pkg/audit"
	"github.com/tarsy-oss/tarsy/pkg/cleanup"
	"github.com/tarsy-oss/tarsy/pkg/config"
	"github.com/tarsy-oss/tarsy/pkg/hooks"
	"github.com/tarsy-oss/tarsy/pkg/llm"
	"github.com/tarsy-oss/tarsy/pkg/mcp"
	"github.com/tarsy-oss/tarsy/pkg/metrics"
	"github.com/tarsy-oss/tarsy/pkg/orchestrator"
	"github.com/tarsy-oss/tarsy/pkg/runbook"
	"github.com/tarsy-oss/tarsy/pkg/slack"
	"github.com/tarsy-oss/tarsy/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting tarsy",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration (process refuses to start on validation failure)
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Audit store (runs migrations; refuses unknown schema versions)
	dbConfig, err := audit.LoadDBConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	store, err := audit.NewPostgresStore(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Hook bus with subscribers: audit writer, dashboard broadcaster,
	// metrics, and (optionally) Slack
	bus := hooks.NewBus(hooks.DefaultQueueSize)
	bus.Register(audit.NewRecorder(store))
	hub := api.NewProgressHub(cfg.Defaults.CORSOrigins)
	bus.Register(hub)
	collector := metrics.NewCollector()
	bus.Register(collector)
	if cfg.Slack.Enabled {
		if notifier := slack.NewNotifier(os.Getenv(cfg.Slack.TokenEnv), cfg.Slack.Channel); notifier != nil {
			bus.Register(notifier)
			slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
		} else {
			slog.Warn("Slack enabled but token/channel missing, notifications disabled")
		}
	}
	bus.Start()
	defer bus.Close()

	// 4. Adapters: LLM provider and MCP connection pool
	llmBase, err := buildLLMClient(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	pool := mcp.NewPool(cfg.MCPServerRegistry)
	defer func() {
		if err := pool.Close(); err != nil {
			slog.Error("Error closing MCP pool", "error", err)
		}
	}()

	// 5. Agent runtime and orchestrator
	runtime := agent.NewRuntime(cfg, llmBase,
		mcp.NewPoolToolSetFactory(pool, bus, cfg.Defaults.MCPTimeout),
		bus, prompt.NewBuilder(), controller.NewFactory())
	runbooks := runbook.NewService(cfg.Runbooks, os.Getenv(cfg.GitHub.TokenEnv))
	alerts := orchestrator.NewAlertService(cfg, store, bus, runtime, runbooks)

	// 6. Retention sweeper
	sweeper := cleanup.NewService(store, cfg.Defaults.HistoryRetentionDays, 0)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 7. HTTP server
	server := api.NewServer(cfg, store, alerts, hub, collector)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("Tarsy started successfully",
		"max_concurrent_alerts", cfg.Defaults.MaxConcurrentAlerts)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop intake first, then drain in-flight sessions
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, 60*time.Second)
	defer drainCancel()
	alerts.Shutdown(drainCtx)

	slog.Info("Shutdown complete")
}

// buildLLMClient resolves the default provider and constructs its adapter.
func buildLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	name := cfg.Defaults.LLMProvider
	if name == "" {
		name = "google-default"
		cfg.Defaults.LLMProvider = name
	}
	provider, err := cfg.GetLLMProvider(name)
	if err != nil {
		return nil, err
	}

	slog.Info("LLM provider selected", "provider", name, "model", provider.Model)

	switch provider.Type {
	case config.LLMProviderTypeGoogle:
		return llm.NewGeminiClient(ctx, os.Getenv(provider.APIKeyEnv), provider.Model, provider.Temperature)
	default:
		return nil, fmt.Errorf("no adapter built in for provider type %q; set default_llm_provider to a google provider or wire a custom llm.Client", provider.Type)
	}
}
