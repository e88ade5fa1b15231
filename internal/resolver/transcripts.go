package resolver

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeTranscript persists resolved transcript text under the transcripts
// directory, one file per episode grouped by show.
func writeTranscript(baseDir, showID, episodeID, text string) (string, error) {
	dir := filepath.Join(baseDir, showID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcript directory: %w", err)
	}
	path := filepath.Join(dir, episodeID+".txt")
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize transcript: %w", err)
	}
	return path, nil
}
