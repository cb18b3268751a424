package main

import (
	"fmt"

	"github.com/shady2k/lifemodel/internal/memory"
	"github.com/shady2k/lifemodel/internal/runtimeconfig"
	"github.com/shady2k/lifemodel/internal/scheduler"
	"github.com/spf13/cobra"
)

// buildMigrateCmd ensures the configured SQLite stores exist with their
// current schema. Both OpenSQLiteStore constructors run
// "CREATE TABLE IF NOT EXISTS" eagerly on open, so migration is just
// opening and closing each configured store once.
func buildMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the on-disk schedule and memory store schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, *configPath)
		},
	}
}

func runMigrate(cmd *cobra.Command, configPath string) error {
	cfg, err := runtimeconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	out := cmd.OutOrStdout()

	if cfg.Database.SchedulePath != "" {
		store, err := scheduler.OpenSQLiteStore(cfg.Database.SchedulePath)
		if err != nil {
			return fmt.Errorf("migrate schedule store: %w", err)
		}
		if err := store.Close(); err != nil {
			return fmt.Errorf("close schedule store: %w", err)
		}
		fmt.Fprintf(out, "schedule store ready: %s\n", cfg.Database.SchedulePath)
	} else {
		fmt.Fprintln(out, "schedule store: in-memory, nothing to migrate")
	}

	if cfg.Database.MemoryPath != "" {
		store, err := memory.OpenSQLiteStore(cfg.Database.MemoryPath)
		if err != nil {
			return fmt.Errorf("migrate memory store: %w", err)
		}
		if err := store.Close(); err != nil {
			return fmt.Errorf("close memory store: %w", err)
		}
		fmt.Fprintf(out, "memory store ready: %s\n", cfg.Database.MemoryPath)
	} else {
		fmt.Fprintln(out, "memory store: in-memory, nothing to migrate")
	}

	return nil
}
