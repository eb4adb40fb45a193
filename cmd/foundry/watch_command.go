package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"foundry/internal/notify"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Stream progress for a task until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			return followTask(cmd, client, args[0])
		},
	}
}

// followTask long-polls the events endpoint and prints each update until a
// terminal event arrives.
func followTask(cmd *cobra.Command, client *apiClient, id string) error {
	out := cmd.OutOrStdout()
	var since uint64
	for {
		resp, err := client.events(cmd.Context(), id, since, true)
		if err != nil {
			return err
		}
		since = resp.Next
		for _, evt := range resp.Events {
			printEvent(out, evt)
			if evt.Terminal() {
				if evt.Type == notify.EventError {
					return fmt.Errorf("task %s: %s", evt.Status, evt.Message)
				}
				return nil
			}
		}
		if resp.Closed && len(resp.Events) == 0 {
			// Stream closed before we attached; fall back to final state.
			t, err := client.get(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "task %s is %s\n", t.ID, t.Status)
			return nil
		}
	}
}

func printEvent(out io.Writer, evt notify.Event) {
	switch evt.Type {
	case notify.EventProgress:
		fmt.Fprintf(out, "epoch %d/%d (%.1f%%)%s\n", evt.Epoch, evt.TotalEpochs, evt.Percent, formatMetrics(evt.Metrics))
	case notify.EventFinished:
		fmt.Fprintf(out, "completed, weights at %s\n", evt.WeightsPath)
	case notify.EventError:
		fmt.Fprintf(out, "%s: %s\n", evt.Status, evt.Message)
	}
}

func formatMetrics(metrics map[string]float64) string {
	if len(metrics) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metrics))
	for key := range metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.4f", key, metrics[key]))
	}
	return " " + strings.Join(parts, " ")
}
