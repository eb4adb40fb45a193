// Package testsupport provides shared helpers for package tests: temp-dir
// configurations and store constructors with registered cleanup.
package testsupport

import (
	"path/filepath"
	"testing"

	"foundry/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ArtifactsDir = filepath.Join(base, "artifacts")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Workers.Count = 1
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Limits.MinFreeDiskMiB = 0

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithWorkers overrides the worker count on the test config.
func WithWorkers(count int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workers.Count = count
	}
}

// WithTrainerBinary points the trainer at a specific binary.
func WithTrainerBinary(binary string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Trainer.Binary = binary
	}
}
