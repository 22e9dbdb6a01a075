// Command foundry runs the exercise drafting pipeline from the terminal:
// create and drive runs, review paused drafts, inspect history and metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"foundry/pkg/config"
	"foundry/pkg/logx"
)

var (
	flagConfig  string
	flagDataDir string
)

func main() {
	root := &cobra.Command{
		Use:           "foundry",
		Short:         "Drafting pipeline for therapeutic exercises",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config JSON")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", defaultDataDir(), "directory for databases and event logs")

	root.AddCommand(
		newRunCmd(),
		newResumeCmd(),
		newStateCmd(),
		newEditCmd(),
		newHistoryCmd(),
		newMetricsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logx.NewLogger("foundry").Error("%v", err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".foundry"
	}
	return home + "/.foundry"
}

// loadConfig resolves the effective configuration for a command invocation.
func loadConfig() (*config.Config, error) {
	if err := os.MkdirAll(flagDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if flagConfig == "" {
		return config.Default(flagDataDir), nil
	}
	cfg, err := config.Load(flagConfig, flagDataDir)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
