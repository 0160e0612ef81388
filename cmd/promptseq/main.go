// Package main provides the CLI entry point for the promptseq backend.
//
// Start the server:
//
//	promptseq serve --config promptseq.yaml
//
// Apply database migrations without starting the server:
//
//	promptseq migrate
//
// Configuration may also come from environment variables; see the config
// package for the full contract (DATABASE_URL, SECRET_KEY, CLAUDE_API_KEY,
// and the PROMPTSEQ_* overrides).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptseq/promptseq/internal/auth"
	"github.com/promptseq/promptseq/internal/config"
	"github.com/promptseq/promptseq/internal/engine"
	"github.com/promptseq/promptseq/internal/llm"
	"github.com/promptseq/promptseq/internal/observability"
	"github.com/promptseq/promptseq/internal/runner"
	"github.com/promptseq/promptseq/internal/storage"
	"github.com/promptseq/promptseq/internal/web"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "promptseq",
		Short:   "Prompt sequence authoring and execution backend",
		Long:    "promptseq stores prompt sequences, renders their templates and executes them against an LLM, exposing everything over an HTTP API.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildMigrateCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Database, nil)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics, registry := observability.NewMetrics()

	store, err := storage.Open(cfg.Database, metrics)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	jwtSvc, err := auth.NewJWTService(cfg.Auth.SecretKey, cfg.Auth.Algorithm, cfg.Auth.TokenExpiry)
	if err != nil {
		return err
	}

	provider, err := llm.NewAnthropicProvider(cfg.LLM, logger, metrics)
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}
	eng := engine.New(store, provider, logger, metrics, cfg.LLM, cfg.Engine)

	var runs *runner.Runner
	if !cfg.Engine.SyncRuns {
		runs = runner.New(eng, logger, 2, 64)
		runs.Start(ctx)
	}

	handler, err := web.NewHandler(&web.Config{
		App:      cfg,
		Store:    store,
		Engine:   eng,
		Runner:   runs,
		JWT:      jwtSvc,
		Logger:   logger,
		Metrics:  metrics,
		Registry: registry,
	})
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server listening", "addr", addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if runs != nil {
		if err := runs.Shutdown(shutdownCtx); err != nil {
			logger.Warn(context.Background(), "runner shutdown timed out", "error", err)
		}
	}
	return server.Shutdown(shutdownCtx)
}
