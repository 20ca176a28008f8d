package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legionruntime/legion/internal/config"
	"github.com/legionruntime/legion/internal/service"
)

func buildSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func buildServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage service installation files",
	}
	cmd.AddCommand(buildServiceInstallCmd(), buildServiceRestartCmd())
	return cmd
}

func buildServiceInstallCmd() *cobra.Command {
	var (
		configPath string
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a user-level service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := service.InstallUserService(configPath, overwrite)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s\n", result.Path)
			for _, step := range result.Instructions {
				fmt.Fprintf(out, "  %s\n", step)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Rewrite the file if it already exists")
	return cmd
}

func buildServiceRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the installed user-level service",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := service.RestartUserService(cmd.Context())
			for _, step := range steps {
				fmt.Fprintf(cmd.OutOrStdout(), "ran %s\n", step)
			}
			return err
		},
	}
}
