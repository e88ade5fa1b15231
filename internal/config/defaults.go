package config

const (
	defaultStagingDir     = "~/.local/share/quill/staging"
	defaultTranscriptsDir = "~/.local/share/quill/transcripts"
	defaultLogDir         = "~/.local/share/quill/logs"

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60

	defaultSourceWindowSize    = 50
	defaultSourceLowWaterMark  = 0.10
	defaultSourceMinSampleSize = 10

	defaultResolverWorkers       = 4
	defaultClaimBatchSize        = 16
	defaultRetryCeiling          = 3
	defaultBackoffBaseMinutes    = 15
	defaultBackoffFactor         = 4
	defaultSourceSpacingSeconds  = 5
	defaultFetchTimeoutSeconds   = 60
	defaultMinTranscriptChars    = 200
	defaultTranscriptionPollSecs = 30
	defaultStaleThresholdHours   = 12
	defaultMaxRestages           = 2

	defaultWorkflowPollInterval      = 5
	defaultWorkflowErrorRetry        = 10
	defaultWorkflowHeartbeatInterval = 15
	defaultWorkflowHeartbeatTimeout  = 120

	defaultWatchdogWindowMinutes = 30
	defaultWatchdogStallMinutes  = 120
	defaultWatchdogCheckSeconds  = 60

	defaultRetrySchedule        = "0 4 * * 1"
	defaultReprioritizeSchedule = "@hourly"
	defaultRetryPerShow         = 5

	defaultNotifyRequestTimeout = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:     defaultStagingDir,
			TranscriptsDir: defaultTranscriptsDir,
			LogDir:         defaultLogDir,
		},
		Sources: Sources{
			WindowSize:    defaultSourceWindowSize,
			LowWaterMark:  defaultSourceLowWaterMark,
			MinSampleSize: defaultSourceMinSampleSize,
		},
		Resolver: Resolver{
			Workers:            defaultResolverWorkers,
			ClaimBatchSize:     defaultClaimBatchSize,
			RetryCeiling:       defaultRetryCeiling,
			BackoffBaseMinutes: defaultBackoffBaseMinutes,
			BackoffFactor:      defaultBackoffFactor,
			SourceSpacing:      defaultSourceSpacingSeconds,
			FetchTimeout:       defaultFetchTimeoutSeconds,
			MinTranscriptChars: defaultMinTranscriptChars,
		},
		Transcription: Transcription{
			PollInterval:       defaultTranscriptionPollSecs,
			StaleThresholdHrs:  defaultStaleThresholdHours,
			MaxRestages:        defaultMaxRestages,
			MinTranscriptChars: defaultMinTranscriptChars,
		},
		Workflow: Workflow{
			PollInterval:       defaultWorkflowPollInterval,
			ErrorRetryInterval: defaultWorkflowErrorRetry,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:   defaultWorkflowHeartbeatTimeout,
		},
		Watchdog: Watchdog{
			WindowMinutes:         defaultWatchdogWindowMinutes,
			StallThresholdMinutes: defaultWatchdogStallMinutes,
			CheckInterval:         defaultWatchdogCheckSeconds,
		},
		Sweep: Sweep{
			RetrySchedule:        defaultRetrySchedule,
			ReprioritizeSchedule: defaultReprioritizeSchedule,
			RetryPerShow:         defaultRetryPerShow,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Stalls:         true,
			Resolutions:    true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
