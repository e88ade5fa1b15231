package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration consistency. Normalization must run first so
// paths are absolute and defaults are applied.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		problems = append(problems, "paths.staging_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.TranscriptsDir) == "" {
		problems = append(problems, "paths.transcripts_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: unsupported value %q", c.Logging.Format))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level: unsupported value %q", c.Logging.Level))
	}

	// The inbound and outbound worker areas must differ, otherwise completed
	// output would be re-staged as new work.
	in := strings.TrimSpace(c.Transcription.WorkerInboundDir)
	out := strings.TrimSpace(c.Transcription.WorkerOutboundDir)
	if in != "" && in == out {
		problems = append(problems, "transcription.worker_inbound_dir and worker_outbound_dir must differ")
	}
	if (in == "") != (out == "") {
		problems = append(problems, "transcription staging requires both worker_inbound_dir and worker_outbound_dir")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}

// TranscriptionConfigured reports whether the remote-worker staging areas are set.
func (c *Config) TranscriptionConfigured() bool {
	return c.Transcription.Configured()
}

// Configured reports whether both remote-worker staging areas are set.
func (t Transcription) Configured() bool {
	return strings.TrimSpace(t.WorkerInboundDir) != "" &&
		strings.TrimSpace(t.WorkerOutboundDir) != ""
}
