package config

const (
	defaultDataDir            = "~/.local/share/foundry/data"
	defaultLogDir             = "~/.local/share/foundry/logs"
	defaultArtifactsDir       = "~/.local/share/foundry/artifacts"
	defaultAPIBind            = "127.0.0.1:8640"
	defaultTrainerBinary      = "foundry-train"
	defaultTrainerTimeout     = 86400
	defaultWorkerCount        = 1
	defaultQueueTopic         = "training"
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultQueueLeaseSeconds  = 60
	defaultReconcileInterval  = 30
	defaultNotifierPollMillis = 500
	defaultNotifierRetention  = 300
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultMaxEpochs          = 10000
	defaultMaxBatchSize       = 1024
	defaultMinFreeDiskMiB     = 512
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			LogDir:       defaultLogDir,
			ArtifactsDir: defaultArtifactsDir,
			APIBind:      defaultAPIBind,
		},
		Trainer: Trainer{
			Binary:         defaultTrainerBinary,
			TimeoutSeconds: defaultTrainerTimeout,
		},
		Workers: Workers{
			Count: defaultWorkerCount,
			Topic: defaultQueueTopic,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			QueueLeaseSeconds:  defaultQueueLeaseSeconds,
			ReconcileInterval:  defaultReconcileInterval,
		},
		Notifier: Notifier{
			PollIntervalMillis: defaultNotifierPollMillis,
			RetentionSeconds:   defaultNotifierRetention,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Limits: Limits{
			MaxEpochs:      defaultMaxEpochs,
			MaxBatchSize:   defaultMaxBatchSize,
			MinFreeDiskMiB: defaultMinFreeDiskMiB,
		},
	}
}
