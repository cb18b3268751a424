package main

import (
	"fmt"
	"time"

	"github.com/shady2k/lifemodel/internal/runtimeconfig"
	"github.com/shady2k/lifemodel/internal/scheduler"
	"github.com/spf13/cobra"
)

// buildScheduleCmd groups direct schedule-store operations that don't need
// the agentic loop: listing, adding, and cancelling entries for a recipient.
func buildScheduleCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and manage a recipient's schedule entries",
	}
	cmd.AddCommand(
		buildScheduleListCmd(configPath),
		buildScheduleAddCmd(configPath),
		buildScheduleCancelCmd(configPath),
	)
	return cmd
}

func buildScheduleListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <recipient>",
		Short: "List pending schedule entries for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runtimeconfig.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return fmt.Errorf("build runtime: %w", err)
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			entries := rt.Scheduler.List(args[0])
			if len(entries) == 0 {
				fmt.Fprintln(out, "no pending schedules")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s\tfires=%s\trecurs=%v\n",
					e.ID, e.NextFireAt.Format(time.RFC3339), e.Recurrence != nil)
			}
			return nil
		},
	}
}

func buildScheduleAddCmd(configPath *string) *cobra.Command {
	var fireAt, timezone, localTime string
	cmd := &cobra.Command{
		Use:   "add <recipient>",
		Short: "Add a one-off schedule entry for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runtimeconfig.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return fmt.Errorf("build runtime: %w", err)
			}
			defer rt.Close()

			var when time.Time
			if fireAt != "" {
				when, err = time.Parse(time.RFC3339, fireAt)
				if err != nil {
					return fmt.Errorf("invalid --fire-at: %w", err)
				}
			}
			id, err := rt.Scheduler.Schedule(scheduler.ScheduleOptions{
				OwnerID:   args[0],
				FireAt:    when,
				Timezone:  timezone,
				LocalTime: localTime,
			})
			if err != nil {
				return fmt.Errorf("schedule: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&fireAt, "fire-at", "", "RFC3339 timestamp to fire at (default: now)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for local-time recurrences")
	cmd.Flags().StringVar(&localTime, "local-time", "", "Local time of day (HH:MM) for recurrences")
	return cmd
}

func buildScheduleCancelCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <schedule-id>",
		Short: "Cancel a pending schedule entry by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runtimeconfig.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return fmt.Errorf("build runtime: %w", err)
			}
			defer rt.Close()

			if !rt.Scheduler.Cancel(args[0]) {
				return fmt.Errorf("schedule %q not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			return nil
		},
	}
}
