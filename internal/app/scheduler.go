/**
 * @description
 * Cron scheduler setup for the maintenance jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/transfa/supporter-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler. It reports whether
// any job was scheduled.
func (s *Scheduler) Start() bool {
	if s.config.SnapshotSchedule == "" {
		s.logger.Info("subscriber snapshot job disabled")
		return false
	}

	if _, err := s.cron.AddFunc(s.config.SnapshotSchedule, s.jobs.SnapshotSubscribers); err != nil {
		s.logger.Error("failed to schedule subscriber snapshot job", "schedule", s.config.SnapshotSchedule, "error", err)
		return false
	}
	s.logger.Info("scheduled subscriber snapshot job", "schedule", s.config.SnapshotSchedule, "dir", s.config.SnapshotDir)

	s.cron.Start()
	return true
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
