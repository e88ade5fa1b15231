package testsupport

import (
	"path/filepath"
	"testing"

	"quill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.TranscriptsDir = filepath.Join(base, "transcripts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Transcription.WorkerInboundDir = filepath.Join(base, "worker", "inbound")
	cfg.Transcription.WorkerOutboundDir = filepath.Join(base, "worker", "outbound")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithoutTranscriptionWorker clears the remote-worker directories so the
// hand-off path reports itself unconfigured.
func WithoutTranscriptionWorker() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Transcription.WorkerInboundDir = ""
		cfg.Transcription.WorkerOutboundDir = ""
	}
}
