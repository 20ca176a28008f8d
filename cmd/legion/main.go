// Package main is the CLI entry point for the Legion agent runtime.
//
// Start the server:
//
//	legion serve --config legion.yaml
//
// Check the installation:
//
//	legion doctor --config legion.yaml
//
// Configuration can also come from environment variables expanded inside the
// config file (${ANTHROPIC_API_KEY} and friends), plus the operational
// overrides REASONING_LOOP_TIMEOUT_MS and SCHEDULER_JOB_TIMEOUT_MS.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/legionruntime/legion/internal/observability"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "legion",
		Short: "Legion - autonomous multi-agent runtime",
		Long: `Legion runs a fleet of autonomous AI agents: a reasoning loop with
tiered model routing, plan execution, schedules, approvals, budgets, and
agent-to-agent collaboration.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
		buildSchemaCmd(),
		buildServiceCmd(),
	)
	return rootCmd
}

// newLogger builds the redacting runtime logger from config values.
func newLogger(level, format string, debug bool) *slog.Logger {
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: format,
	}).Slog()
}
