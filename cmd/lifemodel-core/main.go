// Package main provides the CLI entry point for the lifemodel-core
// autonomic agent runtime.
//
// lifemodel-core ticks a roster of recipients through the core loop: it
// collects due schedules and detected patterns, aggregates them, asks the
// wake engine whether to run the agentic loop, and applies whatever
// intents the loop compiles.
//
// # Basic Usage
//
// Start the runtime:
//
//	lifemodel-core serve --config lifemodel.yaml
//
// Inspect a recipient's current state:
//
//	lifemodel-core status user-1 --config lifemodel.yaml
//
// Manage schedules directly:
//
//	lifemodel-core schedule list user-1 --config lifemodel.yaml
//
// # Environment Variables
//
//   - LIFEMODEL_CONFIG: path to configuration file (default: lifemodel.yaml)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: LLM provider credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "lifemodel-core",
		Short:   "lifemodel-core - autonomic agent runtime",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `lifemodel-core ticks a roster of recipients through the core loop:
collect due schedules and detected patterns, aggregate, ask the wake engine
whether to run the agentic loop, and apply compiled intents.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		envOr("LIFEMODEL_CONFIG", "lifemodel.yaml"), "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildStatusCmd(&configPath),
		buildScheduleCmd(&configPath),
		buildMigrateCmd(&configPath),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
