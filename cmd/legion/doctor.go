package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legionruntime/legion/internal/config"
	"github.com/legionruntime/legion/internal/doctor"
	"github.com/legionruntime/legion/internal/store"
)

func buildDoctorCmd() *cobra.Command {
	var (
		configPath string
		probe      bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database, and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath, probe)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")
	cmd.Flags().BoolVar(&probe, "probe", false, "Send a test completion to each AI provider")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string, probe bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintf(out, "config: %s OK\n", configPath)

	warned := false
	for _, w := range doctor.CheckConfigPolicies(cfg) {
		fmt.Fprintf(out, "  warning: %s\n", w)
		warned = true
	}
	for _, w := range doctor.CheckDataFiles(cfg) {
		fmt.Fprintf(out, "  warning: %s\n", w)
		warned = true
	}

	stores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	report, err := doctor.InspectDatabase(cmd.Context(), stores)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	fmt.Fprintf(out, "database: %s OK (%d agents, %d active schedules, %d pending approvals)\n",
		cfg.Database.Path, report.Agents, report.ActiveSchedules, report.PendingApprovals)
	for _, w := range report.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
		warned = true
	}

	if probe {
		providers, err := buildProbeProviders(cfg)
		if err != nil {
			return err
		}
		for _, p := range doctor.ProbeProviders(cmd.Context(), providers) {
			if p.OK {
				fmt.Fprintf(out, "provider %s: OK (%s)\n", p.Provider, p.Latency.Round(1e6))
			} else {
				fmt.Fprintf(out, "provider %s: FAILED: %s\n", p.Provider, p.Error)
				warned = true
			}
		}
	}

	if warned {
		fmt.Fprintln(out, "done, with warnings")
	} else {
		fmt.Fprintln(out, "all checks passed")
	}
	return nil
}

func openStores(cfg *config.Config) (store.StoreSet, error) {
	if cfg.Database.Path == ":memory:" {
		return store.NewMemoryStores(), nil
	}
	return store.NewSQLiteStores(&store.SQLiteConfig{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpen,
		BusyTimeout:  cfg.Database.BusyTimeout,
	})
}
