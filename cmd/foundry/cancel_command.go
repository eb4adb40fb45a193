package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Request cancellation of a training task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			t, err := client.cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if t.Status == "stopped" {
				fmt.Fprintf(cmd.OutOrStdout(), "task %s stopped\n", t.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s; it will stop at the next epoch boundary\n", t.ID)
			}
			return nil
		},
	}
}
