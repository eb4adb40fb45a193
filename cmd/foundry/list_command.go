package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List training tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			tasks, err := client.list(cmd.Context(), statuses)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no tasks")
				return nil
			}

			rows := make([][]string, 0, len(tasks))
			for _, t := range tasks {
				progress := fmt.Sprintf("%d/%d", t.CurrentEpoch, t.TotalEpochs)
				note := t.Error
				if note == "" && t.WeightsPath != "" {
					note = t.WeightsPath
				}
				rows = append(rows, []string{
					shortID(t.ID),
					t.Name,
					t.ModelVersion,
					t.Status,
					progress,
					fmt.Sprintf("%.1f%%", t.Percent),
					note,
				})
			}
			table := renderTable(
				[]string{"ID", "Name", "Model", "Status", "Epochs", "Progress", "Note"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (pending, running, completed, failed, stopped)")
	return cmd
}

func shortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
