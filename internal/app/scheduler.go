/**
 * @description
 * Cron scheduler setup for the lifecycle-service's background jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// SchedulerConfig carries the cron expressions for each job.
type SchedulerConfig struct {
	MembershipExpirySchedule string
	LeadNudgeSchedule        string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config SchedulerConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
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
	if _, err := s.cron.AddFunc(s.config.MembershipExpirySchedule, s.jobs.DeactivateExpiredMemberships); err != nil {
		s.logger.Error("failed to schedule membership expiry job", "error", err)
	} else {
		s.logger.Info("scheduled membership expiry job", "schedule", s.config.MembershipExpirySchedule)
	}

	if _, err := s.cron.AddFunc(s.config.LeadNudgeSchedule, s.jobs.NudgeStaleLeads); err != nil {
		s.logger.Error("failed to schedule lead nudge job", "error", err)
	} else {
		s.logger.Info("scheduled lead nudge job", "schedule", s.config.LeadNudgeSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
