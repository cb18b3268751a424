package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shady2k/lifemodel/internal/runtimeconfig"
	"github.com/spf13/cobra"
)

func buildServeCmd(configPath *string) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the core loop tick for every configured recipient",
		Long: `Start the lifemodel-core runtime.

On every tick interval, the runtime ticks each configured recipient through
the core loop: collect due schedules and detected patterns, aggregate, ask
the wake engine whether to run the agentic loop, and apply compiled intents.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := runtimeconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("runtime shutdown error", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("lifemodel-core started",
		"version", version, "commit", commit,
		"recipients", len(cfg.Recipients), "tick_interval", cfg.TickInterval)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	tickAll := func() {
		var wg sync.WaitGroup
		for _, recipientID := range cfg.Recipients {
			wg.Add(1)
			go func(recipientID string) {
				defer wg.Done()
				result := rt.Orchestrator.Tick(ctx, recipientID, nil)
				if result.Err != nil {
					slog.Error("tick failed", "recipient", recipientID, "error", result.Err)
					return
				}
				slog.Debug("tick complete", "recipient", recipientID,
					"woke", result.Woke, "reason", result.WakeReason,
					"intents", result.IntentsCount, "schedules_fired", result.SchedulesFired)
			}(recipientID)
		}
		wg.Wait()
	}

	tickAll()
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, stopping")
			return nil
		case <-ticker.C:
			tickAll()
		}
	}
}
