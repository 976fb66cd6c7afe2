// Package main provides the CLI entry point for the agent runtime.
//
// nexus wraps the run-loop, tool policy engine, tape recorder/replayer, and
// model catalog behind a small cobra command tree so the module is
// independently runnable without any external orchestrator.
//
// # Basic Usage
//
// Start an interactive session:
//
//	nexus run
//
// Manage the tool policy store:
//
//	nexus policy list
//	nexus policy allow write_file
//
// Record or replay a tape:
//
//	nexus run --record session.tape
//	nexus tape replay session.tape
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexus",
		Short: "A provider-agnostic agent runtime",
		Long: `nexus drives a tool-using agent run-loop against any of several LLM
providers, gated by a persistent per-tool policy store and recordable to a
tape for deterministic replay in tests.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "nexus.yaml", "path to the configuration file (env NEXUS_CONFIG)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildPolicyCmd(),
		buildTapeCmd(),
		buildModelsCmd(),
	)
	return rootCmd
}

func resolveConfigPath() string {
	if v := os.Getenv("NEXUS_CONFIG"); v != "" {
		return v
	}
	return configPath
}
