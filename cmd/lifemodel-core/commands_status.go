package main

import (
	"fmt"

	"github.com/shady2k/lifemodel/internal/runtimeconfig"
	"github.com/spf13/cobra"
)

func buildStatusCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <recipient>",
		Short: "Show a recipient's current energy and pending schedules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, *configPath, args[0])
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command, configPath, recipientID string) error {
	cfg, err := runtimeconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "recipient: %s\n", recipientID)
	fmt.Fprintf(out, "energy: %.3f\n", rt.Energy.Value())
	fmt.Fprintf(out, "wake threshold: %.3f\n", rt.Energy.CalculateWakeThreshold(cfg.Wake.ContactUrgeBaseThreshold))

	entries := rt.Scheduler.List(recipientID)
	fmt.Fprintf(out, "pending schedules: %d\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(out, "  - %s fires at %s\n", e.ID, e.NextFireAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
