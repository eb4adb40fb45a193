package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTrainer(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotifier(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ArtifactsDir) == "" {
		return errors.New("paths.artifacts_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateTrainer() error {
	if c.Trainer.Binary == "" {
		return errors.New("trainer.binary must be set")
	}
	if c.Trainer.TimeoutSeconds <= 0 {
		return errors.New("trainer.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count <= 0 {
		return errors.New("workers.count must be positive")
	}
	if c.Workers.Topic == "" {
		return errors.New("workers.topic must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.queue_lease_seconds":  c.Workflow.QueueLeaseSeconds,
		"workflow.reconcile_interval":   c.Workflow.ReconcileInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateNotifier() error {
	if c.Notifier.PollIntervalMillis <= 0 {
		return errors.New("notifier.poll_interval_millis must be positive")
	}
	if c.Notifier.PollIntervalMillis > 1000 {
		return errors.New("notifier.poll_interval_millis must not exceed 1000")
	}
	if c.Notifier.RetentionSeconds <= 0 {
		return errors.New("notifier.retention_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Limits.MaxEpochs <= 0 {
		return errors.New("limits.max_epochs must be positive")
	}
	if c.Limits.MaxBatchSize <= 0 {
		return errors.New("limits.max_batch_size must be positive")
	}
	if c.Limits.MinFreeDiskMiB < 0 {
		return errors.New("limits.min_free_disk_mib must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
