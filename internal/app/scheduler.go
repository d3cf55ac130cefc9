package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron specs of the maintenance jobs.
type Schedules struct {
	Sweep     string
	Reconcile string
	Archive   string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler. The sweep job is
// required; an invalid reconcile or archive schedule is logged and skipped.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedules.Sweep, s.jobs.SweepExpiredRequests); err != nil {
		s.logger.Error("failed to schedule correlation sweep job", "error", err)
		return err
	}
	s.logger.Info("scheduled correlation sweep job", "schedule", s.schedules.Sweep)

	if s.schedules.Reconcile != "" {
		if _, err := s.cron.AddFunc(s.schedules.Reconcile, s.jobs.ReconcileStaleTransfers); err != nil {
			s.logger.Error("failed to schedule reconcile job", "error", err)
		} else {
			s.logger.Info("scheduled reconcile job", "schedule", s.schedules.Reconcile)
		}
	}

	if s.schedules.Archive != "" {
		if _, err := s.cron.AddFunc(s.schedules.Archive, s.jobs.ArchiveFinishedBulks); err != nil {
			s.logger.Error("failed to schedule archive job", "error", err)
		} else {
			s.logger.Info("scheduled archive job", "schedule", s.schedules.Archive)
		}
	}

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
