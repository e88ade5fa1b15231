package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/services"
	"quill/internal/store"
)

// WorkerSourceID is the provenance recorded on transcripts produced by the
// remote worker instead of an online source.
const WorkerSourceID = "local-worker"

// ResolvedFunc mirrors the orchestrator's outbound transcript callback.
type ResolvedFunc func(ctx context.Context, episodeID, transcriptText, sourceID string)

// Coordinator owns the TranscriptionJob lifecycle. It is safe to run as a
// single loop; job volume is small next to online resolution volume.
type Coordinator struct {
	store      *store.Store
	cfg        config.Transcription
	paths      config.Paths
	downloader Downloader
	logger     *slog.Logger
	onResolved ResolvedFunc

	warnedUnconfigured bool
}

// Downloader fetches remote audio into a local file.
type Downloader interface {
	Download(ctx context.Context, rawURL, destPath string) error
}

// NewCoordinator constructs the hand-off coordinator.
func NewCoordinator(st *store.Store, cfg config.Transcription, paths config.Paths, downloader Downloader, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		store:      st,
		cfg:        cfg,
		paths:      paths,
		downloader: downloader,
		logger:     logging.NewComponentLogger(logger, "transcribe"),
	}
}

// SetResolvedHook installs the outbound transcript callback.
func (c *Coordinator) SetResolvedHook(fn ResolvedFunc) {
	c.onResolved = fn
}

// RunOnce performs one coordinator sweep: stage new work, import completed
// output, and re-stage or fail anything the worker has sat on too long.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	if !c.cfg.Configured() {
		if !c.warnedUnconfigured {
			c.logger.Warn("transcription worker directories not configured, episodes will wait in needs_transcription")
			c.warnedUnconfigured = true
		}
		return nil
	}

	if err := c.stagePending(ctx); err != nil {
		return err
	}
	if err := c.importCompleted(ctx); err != nil {
		return err
	}
	return c.handleStale(ctx)
}

// stagePending creates jobs for newly handed-off episodes and pushes audio
// to the worker. A push failure is not terminal; the job stays queued and
// the next sweep retries it.
func (c *Coordinator) stagePending(ctx context.Context) error {
	episodes, err := c.store.EpisodesByState(ctx, store.StateNeedsTranscription, 0)
	if err != nil {
		return err
	}

	for _, episode := range episodes {
		job, err := c.store.LiveJobForEpisode(ctx, episode.ID)
		if err != nil {
			return err
		}
		if job == nil {
			job, err = c.createJob(ctx, episode)
			if err != nil {
				c.logger.Warn("staging audio failed, will retry",
					logging.String(logging.FieldEpisodeID, episode.ID), logging.Error(err))
				continue
			}
		}
		if job.StagedAt == nil {
			if err := c.pushToWorker(ctx, job); err != nil {
				c.logger.Warn("worker inbound push failed, will retry",
					logging.String(logging.FieldEpisodeID, episode.ID), logging.Error(err))
			}
		}
	}
	return nil
}

func (c *Coordinator) createJob(ctx context.Context, episode *store.Episode) (*store.TranscriptionJob, error) {
	audioPath, err := c.holdAudio(ctx, episode)
	if err != nil {
		return nil, err
	}
	job, err := c.store.CreateJob(ctx, episode.ID, audioPath)
	if err != nil {
		if errors.Is(err, store.ErrJobExists) {
			return c.store.LiveJobForEpisode(ctx, episode.ID)
		}
		return nil, err
	}
	c.logger.Info("transcription job created",
		logging.String(logging.FieldEpisodeID, episode.ID),
		logging.String("job_id", job.ID))
	return job, nil
}

// holdAudio places the episode audio in the local holding area, downloading
// it when only a remote locator exists.
func (c *Coordinator) holdAudio(ctx context.Context, episode *store.Episode) (string, error) {
	if episode.AudioLocalPath != "" {
		if _, err := os.Stat(episode.AudioLocalPath); err != nil {
			return "", services.Wrap(services.ErrAudioUnavailable, "transcribe", "hold audio", episode.AudioLocalPath, err)
		}
		return episode.AudioLocalPath, nil
	}
	if episode.AudioURL == "" {
		return "", services.Wrap(services.ErrAudioUnavailable, "transcribe", "hold audio", "episode has no audio locator", nil)
	}

	dest := filepath.Join(c.paths.StagingDir, episode.ID+audioExt(episode.AudioURL))
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	if err := c.downloader.Download(ctx, episode.AudioURL, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (c *Coordinator) pushToWorker(ctx context.Context, job *store.TranscriptionJob) error {
	dest := filepath.Join(c.cfg.WorkerInboundDir, job.ID+filepath.Ext(job.AudioPath))
	if err := copyFile(job.AudioPath, dest); err != nil {
		return services.Wrap(services.ErrWorkerUnavailable, "transcribe", "push audio", dest, err)
	}
	return c.store.MarkJobStaged(ctx, job.ID)
}

// importCompleted polls the worker outbound directory and imports finished
// transcripts.
func (c *Coordinator) importCompleted(ctx context.Context) error {
	jobs, err := c.store.ListLiveJobs(ctx)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if job.StagedAt == nil {
			continue
		}

		outputPath := filepath.Join(c.cfg.WorkerOutboundDir, job.ID+".txt")
		data, err := os.ReadFile(outputPath)
		if err != nil {
			if os.IsNotExist(err) {
				c.noteAck(ctx, job)
				continue
			}
			return fmt.Errorf("read worker output: %w", err)
		}

		if err := c.importOutput(ctx, job, string(data), outputPath); err != nil {
			return err
		}
	}
	return nil
}

// noteAck records worker pickup: the inbound copy is gone but no output has
// appeared yet.
func (c *Coordinator) noteAck(ctx context.Context, job *store.TranscriptionJob) {
	if job.AckedAt != nil {
		return
	}
	inbound := filepath.Join(c.cfg.WorkerInboundDir, job.ID+filepath.Ext(job.AudioPath))
	if _, err := os.Stat(inbound); os.IsNotExist(err) {
		if err := c.store.MarkJobAcked(ctx, job.ID); err != nil {
			c.logger.Warn("recording worker ack failed", logging.Error(err))
		}
	}
}

func (c *Coordinator) importOutput(ctx context.Context, job *store.TranscriptionJob, text, outputPath string) error {
	text = strings.TrimSpace(text)
	if len(text) < c.cfg.MinTranscriptChars {
		// Near-empty output is a failure, not a success. The worker ran
		// but produced nothing usable.
		c.logger.Warn("rejecting near-empty worker output",
			logging.String(logging.FieldEpisodeID, job.EpisodeID),
			logging.Int("chars", len(text)))
		if err := c.store.MarkFailedPermanent(ctx, job.EpisodeID, store.StateNeedsTranscription, services.ClassNoContent); err != nil && !errors.Is(err, store.ErrStateConflict) {
			return err
		}
		return c.closeJob(ctx, job, outputPath)
	}

	transcriptPath, err := c.writeTranscript(job.EpisodeID, text)
	if err != nil {
		return err
	}
	if err := c.store.MarkFetched(ctx, job.EpisodeID, store.StateNeedsTranscription, WorkerSourceID, transcriptPath); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return c.closeJob(ctx, job, outputPath)
		}
		return err
	}
	if err := c.store.MarkJobCompleted(ctx, job.ID, transcriptPath); err != nil {
		return err
	}

	c.logger.Info("worker transcript imported",
		logging.String(logging.FieldEpisodeID, job.EpisodeID),
		logging.String("job_id", job.ID),
		logging.Int("chars", len(text)))
	if c.onResolved != nil {
		c.onResolved(ctx, job.EpisodeID, text, WorkerSourceID)
	}
	return c.closeJob(ctx, job, outputPath)
}

// closeJob archives the job and removes staging artifacts on both sides.
func (c *Coordinator) closeJob(ctx context.Context, job *store.TranscriptionJob, outputPath string) error {
	_ = os.Remove(outputPath)
	_ = os.Remove(filepath.Join(c.cfg.WorkerInboundDir, job.ID+filepath.Ext(job.AudioPath)))
	if strings.HasPrefix(job.AudioPath, c.paths.StagingDir) {
		_ = os.Remove(job.AudioPath)
	}
	return c.store.ArchiveJob(ctx, job.ID)
}

// handleStale re-stages jobs the worker never acknowledged and fails the
// episode once the re-stage budget is spent.
func (c *Coordinator) handleStale(ctx context.Context) error {
	jobs, err := c.store.ListLiveJobs(ctx)
	if err != nil {
		return err
	}

	threshold := time.Duration(c.cfg.StaleThresholdHrs) * time.Hour
	for _, job := range jobs {
		if job.StagedAt == nil || job.AckedAt != nil || job.CompletedAt != nil {
			continue
		}
		if time.Since(*job.StagedAt) < threshold {
			continue
		}

		if job.RestageCount >= c.cfg.MaxRestages {
			c.logger.Warn("transcription job exceeded re-stage budget",
				logging.String(logging.FieldEpisodeID, job.EpisodeID),
				logging.String("job_id", job.ID),
				logging.Int("restages", job.RestageCount))
			if err := c.store.MarkFailedPermanent(ctx, job.EpisodeID, store.StateNeedsTranscription, services.ClassWorkerUnavailable); err != nil && !errors.Is(err, store.ErrStateConflict) {
				return err
			}
			if err := c.closeJob(ctx, job, filepath.Join(c.cfg.WorkerOutboundDir, job.ID+".txt")); err != nil {
				return err
			}
			continue
		}

		if err := c.pushToWorker(ctx, job); err != nil {
			c.logger.Warn("re-stage push failed, will retry",
				logging.String(logging.FieldEpisodeID, job.EpisodeID), logging.Error(err))
			continue
		}
		count, err := c.store.IncrementRestage(ctx, job.ID)
		if err != nil {
			return err
		}
		c.logger.Info("stale transcription job re-staged",
			logging.String(logging.FieldEpisodeID, job.EpisodeID),
			logging.String("job_id", job.ID),
			logging.Int("restages", count))
	}
	return nil
}

func (c *Coordinator) writeTranscript(episodeID, text string) (string, error) {
	episode, err := c.store.GetEpisode(context.Background(), episodeID)
	if err != nil {
		return "", err
	}
	dir := c.paths.TranscriptsDir
	if episode != nil {
		dir = filepath.Join(dir, episode.ShowID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcript directory: %w", err)
	}
	path := filepath.Join(dir, episodeID+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}

func audioExt(audioURL string) string {
	if ext := filepath.Ext(strings.SplitN(audioURL, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".mp3"
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
