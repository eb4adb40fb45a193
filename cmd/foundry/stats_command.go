package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts and queue backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			stats, err := client.stats(cmd.Context())
			if err != nil {
				return err
			}
			rows := [][]string{
				{"pending", fmt.Sprintf("%d", stats.Pending)},
				{"running", fmt.Sprintf("%d", stats.Running)},
				{"completed", fmt.Sprintf("%d", stats.Completed)},
				{"failed", fmt.Sprintf("%d", stats.Failed)},
				{"stopped", fmt.Sprintf("%d", stats.Stopped)},
				{"total", fmt.Sprintf("%d", stats.Total)},
				{"queue depth", fmt.Sprintf("%d", stats.QueueDepth)},
			}
			table := renderTable(
				[]string{"State", "Count"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
