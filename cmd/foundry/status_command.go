package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"foundry/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show details for one training task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			t, err := client.get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTaskDetail(cmd, t)
			return nil
		},
	}
}

func printTaskDetail(cmd *cobra.Command, t api.TaskPayload) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:        %s\n", t.ID)
	fmt.Fprintf(out, "Name:      %s\n", t.Name)
	fmt.Fprintf(out, "Model:     %s\n", t.ModelVersion)
	fmt.Fprintf(out, "Status:    %s\n", t.Status)
	fmt.Fprintf(out, "Progress:  epoch %d/%d (%.1f%%)\n", t.CurrentEpoch, t.TotalEpochs, t.Percent)
	if len(t.Metrics) > 0 {
		fmt.Fprintf(out, "Metrics:  %s\n", formatMetrics(t.Metrics))
	}
	if t.CancelRequested {
		fmt.Fprintln(out, "Cancel:    requested")
	}
	if t.WeightsPath != "" {
		fmt.Fprintf(out, "Weights:   %s\n", t.WeightsPath)
	}
	if t.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", t.Error)
	}
	fmt.Fprintf(out, "Created:   %s\n", t.CreatedAt.Local().Format(time.RFC3339))
	if t.StartedAt != nil {
		fmt.Fprintf(out, "Started:   %s\n", t.StartedAt.Local().Format(time.RFC3339))
	}
	if t.FinishedAt != nil {
		fmt.Fprintf(out, "Finished:  %s\n", t.FinishedAt.Local().Format(time.RFC3339))
	}
}
