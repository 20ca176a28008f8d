package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/legionruntime/legion/internal/config"
	"github.com/legionruntime/legion/internal/service"
)

const shutdownGrace = 30 * time.Second

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Legion runtime",
		Long: `Start the runtime: load configuration, open storage, recover the
scheduler, and serve the WebSocket event hub with health and metrics
endpoints. SIGINT/SIGTERM trigger a graceful shutdown.`,
		Example: `  # Start with default config
  legion serve

  # Start with custom config and debug logging
  legion serve --config /etc/legion/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func defaultConfigPath() string {
	if p := os.Getenv("LEGION_CONFIG"); p != "" {
		return p
	}
	return "legion.yaml"
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format, debug)
	slog.SetDefault(logger)

	logger.Info("starting legion runtime",
		"version", version,
		"config", configPath,
		"http_port", cfg.Server.HTTPPort,
		"provider", cfg.AI.DefaultProvider,
	)

	rt, err := service.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
