package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"foundry/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	req := api.SubmitRequest{}
	var follow bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new training task",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			t, err := client.submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %s (%s)\n", t.ID, t.Name)
			if !follow {
				return nil
			}
			return followTask(cmd, client, t.ID)
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Task name")
	cmd.Flags().StringVar(&req.ModelVersion, "model", "v8", "Model version (v5, v8, v11)")
	cmd.Flags().StringVar(&req.DatasetDir, "dataset", "", "Dataset directory")
	cmd.Flags().IntVar(&req.Epochs, "epochs", 100, "Number of training epochs")
	cmd.Flags().IntVar(&req.BatchSize, "batch-size", 16, "Training batch size")
	cmd.Flags().IntVar(&req.ImageSize, "image-size", 0, "Input image size")
	cmd.Flags().Float64Var(&req.LearningRate, "learning-rate", 0, "Initial learning rate")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream progress until the task finishes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}
