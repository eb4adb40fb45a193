package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"foundry/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigInitCommand(ctx))
	cmd.AddCommand(newConfigShowCommand(ctx))
	cmd.AddCommand(newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if _, err := os.Stat(path); err == nil {
				if !force {
					return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
				}
				if err := os.Remove(path); err != nil {
					return fmt.Errorf("remove existing config: %w", err)
				}
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.configSeen {
				fmt.Fprintf(out, "config file: %s\n", ctx.cfgPath)
			} else {
				fmt.Fprintln(out, "config file: (defaults, no file found)")
			}
			fmt.Fprintf(out, "data dir:      %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "log dir:       %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "artifacts dir: %s\n", cfg.Paths.ArtifactsDir)
			fmt.Fprintf(out, "api bind:      %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "trainer:       %s (timeout %ds)\n", cfg.Trainer.Binary, cfg.Trainer.TimeoutSeconds)
			fmt.Fprintf(out, "workers:       %d on topic %q\n", cfg.Workers.Count, cfg.Workers.Topic)
			fmt.Fprintf(out, "heartbeat:     every %ds, timeout %ds\n", cfg.Workflow.HeartbeatInterval, cfg.Workflow.HeartbeatTimeout)
			return nil
		},
	}
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}
