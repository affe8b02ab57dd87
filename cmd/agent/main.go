package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reelsync/reelsync-agent/internal/config"
	"github.com/reelsync/reelsync-agent/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "reelsync-agent",
		Short:   "Shared video clip sync agent",
		Version: config.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.ConfigPath != "" {
				return os.Setenv(config.EnvConfigFile, opts.ConfigPath)
			}
			return nil
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file (overrides "+config.EnvConfigFile+")")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSyncCommand())
	cmd.AddCommand(newProjectsCommand())

	return cmd
}

// loadApp resolves config and wires an app for one command run.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel())
	return newApp(cmd.Context(), cfg, logger)
}
