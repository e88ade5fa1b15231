package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	pathFields := []struct {
		name  string
		value *string
	}{
		{"paths.staging_dir", &c.Paths.StagingDir},
		{"paths.transcripts_dir", &c.Paths.TranscriptsDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"transcription.worker_inbound_dir", &c.Transcription.WorkerInboundDir},
		{"transcription.worker_outbound_dir", &c.Transcription.WorkerOutboundDir},
	}
	for _, field := range pathFields {
		trimmed := strings.TrimSpace(*field.value)
		if trimmed == "" {
			*field.value = ""
			continue
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	c.Resolver.AggregatorBaseURL = strings.TrimRight(strings.TrimSpace(c.Resolver.AggregatorBaseURL), "/")
	c.Resolver.DirectShows = normalizeList(c.Resolver.DirectShows)
	c.Resolver.NetworkDomains = normalizeList(c.Resolver.NetworkDomains)

	if c.Sweep.RetrySchedule = strings.TrimSpace(c.Sweep.RetrySchedule); c.Sweep.RetrySchedule == "" {
		c.Sweep.RetrySchedule = defaultRetrySchedule
	}
	if c.Sweep.ReprioritizeSchedule = strings.TrimSpace(c.Sweep.ReprioritizeSchedule); c.Sweep.ReprioritizeSchedule == "" {
		c.Sweep.ReprioritizeSchedule = defaultReprioritizeSchedule
	}

	applyPositiveDefaults(c)
	return nil
}

func applyPositiveDefaults(c *Config) {
	ensurePositive(&c.Sources.WindowSize, defaultSourceWindowSize)
	ensurePositive(&c.Sources.MinSampleSize, defaultSourceMinSampleSize)
	if c.Sources.LowWaterMark <= 0 || c.Sources.LowWaterMark >= 1 {
		c.Sources.LowWaterMark = defaultSourceLowWaterMark
	}

	ensurePositive(&c.Resolver.Workers, defaultResolverWorkers)
	ensurePositive(&c.Resolver.ClaimBatchSize, defaultClaimBatchSize)
	ensurePositive(&c.Resolver.RetryCeiling, defaultRetryCeiling)
	ensurePositive(&c.Resolver.BackoffBaseMinutes, defaultBackoffBaseMinutes)
	ensurePositive(&c.Resolver.BackoffFactor, defaultBackoffFactor)
	ensurePositive(&c.Resolver.SourceSpacing, defaultSourceSpacingSeconds)
	ensurePositive(&c.Resolver.FetchTimeout, defaultFetchTimeoutSeconds)
	ensurePositive(&c.Resolver.MinTranscriptChars, defaultMinTranscriptChars)

	ensurePositive(&c.Transcription.PollInterval, defaultTranscriptionPollSecs)
	ensurePositive(&c.Transcription.StaleThresholdHrs, defaultStaleThresholdHours)
	ensurePositive(&c.Transcription.MaxRestages, defaultMaxRestages)
	ensurePositive(&c.Transcription.MinTranscriptChars, defaultMinTranscriptChars)

	ensurePositive(&c.Workflow.PollInterval, defaultWorkflowPollInterval)
	ensurePositive(&c.Workflow.ErrorRetryInterval, defaultWorkflowErrorRetry)
	ensurePositive(&c.Workflow.HeartbeatInterval, defaultWorkflowHeartbeatInterval)
	ensurePositive(&c.Workflow.HeartbeatTimeout, defaultWorkflowHeartbeatTimeout)

	ensurePositive(&c.Watchdog.WindowMinutes, defaultWatchdogWindowMinutes)
	ensurePositive(&c.Watchdog.StallThresholdMinutes, defaultWatchdogStallMinutes)
	ensurePositive(&c.Watchdog.CheckInterval, defaultWatchdogCheckSeconds)

	ensurePositive(&c.Sweep.RetryPerShow, defaultRetryPerShow)
	ensurePositive(&c.Notifications.RequestTimeout, defaultNotifyRequestTimeout)
	ensurePositive(&c.Logging.RetentionDays, defaultLogRetentionDays)
}

func ensurePositive(value *int, fallback int) {
	if *value <= 0 {
		*value = fallback
	}
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
