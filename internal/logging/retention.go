package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RetentionTarget names a directory and glob pattern subject to log cleanup.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs removes files older than retentionDays from the targets.
// Failures are logged and skipped.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) {
	if retentionDays <= 0 {
		return
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	for _, target := range targets {
		if target.Dir == "" || target.Pattern == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(target.Dir, target.Pattern))
		if err != nil {
			logger.Warn("log retention glob failed", Error(err), String("dir", target.Dir))
			continue
		}
		excluded := make(map[string]struct{}, len(target.Exclude))
		for _, path := range target.Exclude {
			excluded[path] = struct{}{}
		}
		removed := 0
		for _, path := range matches {
			if _, ok := excluded[path]; ok {
				continue
			}
			info, err := os.Stat(path)
			if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				logger.Warn("log retention remove failed", Error(err), String("path", path))
				continue
			}
			removed++
		}
		if removed > 0 {
			logger.Debug("removed expired logs", Int("count", removed), String("dir", target.Dir))
		}
	}
}
