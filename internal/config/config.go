package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for the pipeline.
type Paths struct {
	StagingDir     string `toml:"staging_dir"`
	TranscriptsDir string `toml:"transcripts_dir"`
	LogDir         string `toml:"log_dir"`
}

// Sources contains Source Registry tuning.
type Sources struct {
	// WindowSize bounds the sliding window used for rolling success rates.
	WindowSize int `toml:"window_size"`
	// LowWaterMark is the success rate below which a source is auto-disabled.
	LowWaterMark float64 `toml:"low_water_mark"`
	// MinSampleSize is the minimum attempts before auto-disable may trigger.
	MinSampleSize int `toml:"min_sample_size"`
}

// Resolver contains orchestrator tuning.
type Resolver struct {
	Workers            int `toml:"workers"`
	ClaimBatchSize     int `toml:"claim_batch_size"`
	RetryCeiling       int `toml:"retry_ceiling"`
	BackoffBaseMinutes int `toml:"backoff_base_minutes"`
	BackoffFactor      int `toml:"backoff_factor"`
	SourceSpacing      int `toml:"source_spacing_seconds"`
	FetchTimeout       int `toml:"fetch_timeout_seconds"`
	MinTranscriptChars int `toml:"min_transcript_chars"`
	// AggregatorBaseURL is the endpoint probed for show existence and
	// queried for aggregated transcripts.
	AggregatorBaseURL string `toml:"aggregator_base_url"`
	// DirectShows lists show identifiers known to publish transcripts on
	// their own site.
	DirectShows []string `toml:"direct_shows"`
	// NetworkDomains lists publisher domains with a documented transcript
	// URL convention.
	NetworkDomains []string `toml:"network_domains"`
}

// Transcription contains remote-worker hand-off configuration.
type Transcription struct {
	// WorkerInboundDir is the shared staging area the remote worker reads.
	WorkerInboundDir string `toml:"worker_inbound_dir"`
	// WorkerOutboundDir is the shared area the remote worker writes
	// completed transcripts into, keyed by job identifier.
	WorkerOutboundDir  string `toml:"worker_outbound_dir"`
	PollInterval       int    `toml:"poll_interval_seconds"`
	StaleThresholdHrs  int    `toml:"stale_threshold_hours"`
	MaxRestages        int    `toml:"max_restages"`
	MinTranscriptChars int    `toml:"min_transcript_chars"`
}

// Workflow contains daemon timing and intervals.
type Workflow struct {
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Watchdog contains stall-detection tuning.
type Watchdog struct {
	WindowMinutes         int `toml:"window_minutes"`
	StallThresholdMinutes int `toml:"stall_threshold_minutes"`
	CheckInterval         int `toml:"check_interval_seconds"`
}

// Sweep contains scheduled maintenance configuration.
type Sweep struct {
	// RetrySchedule is a cron expression for the weekly failed-episode sweep.
	RetrySchedule string `toml:"retry_schedule"`
	// ReprioritizeSchedule is a cron expression for source reprioritization.
	ReprioritizeSchedule string `toml:"reprioritize_schedule"`
	// RetryPerShow bounds how many failed episodes each sweep re-opens per show.
	RetryPerShow int `toml:"retry_per_show"`
}

// Notifications contains ntfy push notification settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Stalls         bool   `toml:"stalls"`
	Resolutions    bool   `toml:"resolutions"`
	Errors         bool   `toml:"errors"`
}

// Logging contains log output configuration.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Quill.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Sources       Sources       `toml:"sources"`
	Resolver      Resolver      `toml:"resolver"`
	Transcription Transcription `toml:"transcription"`
	Workflow      Workflow      `toml:"workflow"`
	Watchdog      Watchdog      `toml:"watchdog"`
	Sweep         Sweep         `toml:"sweep"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/quill/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("quill.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation. The
// remote-worker staging directories are created on a best-effort basis so the
// daemon can run while the shared mount is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.TranscriptsDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, dir := range []string{c.Transcription.WorkerInboundDir, c.Transcription.WorkerOutboundDir} {
		if strings.TrimSpace(dir) != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
