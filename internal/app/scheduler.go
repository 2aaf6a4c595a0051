/**
 * @description
 * Cron scheduler setup for the disbursement and reconciliation jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/config"
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
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.DisbursementSchedule, s.jobs.RunDisbursement); err != nil {
		s.logger.Error("failed to schedule disbursement job", "error", err)
	} else {
		s.logger.Info("scheduled disbursement job", "schedule", s.config.DisbursementSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.ReconcileSchedule, s.jobs.SweepStalePayouts); err != nil {
		s.logger.Error("failed to schedule stale payout sweep", "error", err)
	} else {
		s.logger.Info("scheduled stale payout sweep", "schedule", s.config.ReconcileSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.ReconcileSchedule, s.jobs.DispatchPendingPayouts); err != nil {
		s.logger.Error("failed to schedule pending payout dispatch", "error", err)
	} else {
		s.logger.Info("scheduled pending payout dispatch", "schedule", s.config.ReconcileSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
