// Package main is the CLI entry point for the shopchat gateway.
//
// Shopchat is a conversational shopping assistant: it connects a chat
// surface to an LLM with a product-search tool, relaying image
// attachments to the search backend by reference.
//
// Start the server:
//
//	shopchat serve --config shopchat.yaml
//
// Configuration values support ${ENV} expansion, so API keys can live in
// the environment:
//
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - CHANNEL3_API_KEY: product catalog API key
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/shopchat/internal/agent"
	"github.com/haasonsaas/shopchat/internal/agent/providers"
	"github.com/haasonsaas/shopchat/internal/config"
	"github.com/haasonsaas/shopchat/internal/gateway"
	"github.com/haasonsaas/shopchat/internal/observability"
	"github.com/haasonsaas/shopchat/internal/relay"
	"github.com/haasonsaas/shopchat/internal/search"
	"github.com/haasonsaas/shopchat/internal/sessions"
	"github.com/haasonsaas/shopchat/internal/tools/productsearch"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const systemPrompt = `You are a helpful shopping assistant. Use the searchProducts tool to find products the user asks about. When the user attaches an image, pass its token to the tool's base64Image argument to search by that image. Present results conversationally and mention prices and availability.`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "shopchat",
		Short:        "Shopchat - conversational shopping assistant gateway",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigSchemaCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the shopchat gateway server",
		Long: `Start the gateway server: chat streaming over SSE and WebSocket,
product detail lookup, health checks and metrics.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  shopchat serve

  # Start with custom config
  shopchat serve --config /etc/shopchat/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "shopchat.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "Print the JSON Schema for the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return err
		},
	}
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)
	logger.Info("starting shopchat gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required (set ANTHROPIC_API_KEY and reference it in the config)")
	}
	if strings.TrimSpace(cfg.Search.APIKey) == "" {
		return fmt.Errorf("search.api_key is required (set CHANNEL3_API_KEY and reference it in the config)")
	}

	metrics := observability.NewMetrics()
	relayStore := relay.NewPointerStore()

	searchClient, err := search.NewClient(search.Config{
		APIKey:  cfg.Search.APIKey,
		BaseURL: cfg.Search.BaseURL,
		Timeout: cfg.Search.TimeoutDuration(),
	})
	if err != nil {
		return fmt.Errorf("search client: %w", err)
	}

	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		MaxRetries:   cfg.LLM.MaxRetries,
		DefaultModel: cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	registry := agent.NewToolRegistry()
	registry.Register(productsearch.New(searchClient, relayStore,
		productsearch.WithLogger(logger),
		productsearch.WithMetrics(metrics),
	))

	runtime := agent.NewRuntime(provider, registry, agent.Options{
		System:    systemPrompt,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Logger:    logger,
		Metrics:   metrics,
	})

	server := gateway.New(gateway.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		HistoryLimit: cfg.Session.HistoryLimit,
	}, runtime, sessions.NewMemoryStore(), relayStore, searchClient, metrics, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	if ttl := cfg.Relay.TTLDuration(); ttl > 0 {
		go sweepLoop(ctx, logger, relayStore, ttl, cfg.Relay.SweepIntervalDuration())
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return nil
}

// sweepLoop reclaims attachment tokens the agent never spent.
func sweepLoop(ctx context.Context, logger *slog.Logger, store *relay.PointerStore, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := store.Sweep(ttl); dropped > 0 {
				logger.Debug("swept stale attachment tokens", "dropped", dropped)
			}
		}
	}
}

func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
