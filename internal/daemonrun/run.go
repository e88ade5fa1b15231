// Package daemonrun hosts the quilld process runtime: single-instance
// locking, signal handling, scheduled maintenance, and the workflow
// manager's lifecycle.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/store"
	"quill/internal/sweep"
	"quill/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the quill daemon and blocks until a termination signal.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loggerCfg := *cfg
	if opts.LogLevel != "" {
		loggerCfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(&loggerCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "quilld.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return errors.New("another quill daemon instance is already running")
	}
	defer func() { _ = lock.Unlock() }()

	pidPath := filepath.Join(cfg.Paths.LogDir, "quilld.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		logger.Warn("pid file write failed", logging.Error(err))
	}
	defer func() { _ = os.Remove(pidPath) }()

	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     cfg.Paths.LogDir,
		Pattern: "*.log",
		Exclude: []string{filepath.Join(cfg.Paths.LogDir, "quill.log")},
	})

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	manager := workflow.NewManager(cfg, st, logger)

	scheduler := cron.New()
	sweeper := sweep.New(st, manager.Registry(), cfg.Sweep, logger)
	if err := sweeper.Register(signalCtx, scheduler); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
		}
	}()

	if err := manager.Start(signalCtx); err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	logger.Info("quill daemon running",
		logging.String("db", st.Path()),
		logging.String("lock", lockPath))

	<-signalCtx.Done()
	logger.Info("shutdown signal received")
	manager.Stop()
	return nil
}
