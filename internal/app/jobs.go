/**
 * @description
 * Scheduled job implementations for the lifecycle-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/suntouch/lifecycle-service/internal/domain"
)

// JobsRepository defines the database operations needed by the jobs.
type JobsRepository interface {
	DeactivateExpiredMemberships(ctx context.Context) (int64, error)
	FindStaleEngagementCustomers(ctx context.Context, olderThan time.Time, limit int) ([]domain.Customer, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo            JobsRepository
	svc             *Service
	logger          *slog.Logger
	nudgeAfter      time.Duration
	nudgeBatchLimit int
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo JobsRepository, svc *Service, logger *slog.Logger, nudgeAfter time.Duration, nudgeBatchLimit int) *Jobs {
	if nudgeBatchLimit <= 0 {
		nudgeBatchLimit = 100
	}
	return &Jobs{
		repo:            repo,
		svc:             svc,
		logger:          logger,
		nudgeAfter:      nudgeAfter,
		nudgeBatchLimit: nudgeBatchLimit,
	}
}

// DeactivateExpiredMemberships flips is_active off on every membership past
// its expiry date.
func (j *Jobs) DeactivateExpiredMemberships() {
	j.logger.Info("starting membership expiry job")
	ctx := context.Background()

	affected, err := j.repo.DeactivateExpiredMemberships(ctx)
	if err != nil {
		j.logger.Error("failed to deactivate expired memberships", "error", err)
		return
	}
	j.logger.Info("membership expiry job finished", "deactivated", affected)
}

// NudgeStaleLeads re-runs the stage advance for customers stuck in the two
// engagement stages longer than the configured window. Those are the only
// auto-advancing stages, so this resends the purchase-options message.
func (j *Jobs) NudgeStaleLeads() {
	if j.nudgeAfter <= 0 {
		return
	}
	j.logger.Info("starting stale lead nudge job", "older_than", j.nudgeAfter.String())
	ctx := context.Background()

	cutoff := time.Now().UTC().Add(-j.nudgeAfter)
	customers, err := j.repo.FindStaleEngagementCustomers(ctx, cutoff, j.nudgeBatchLimit)
	if err != nil {
		j.logger.Error("failed to list stale leads", "error", err)
		return
	}

	for i := range customers {
		j.svc.Advance(ctx, &customers[i])
	}
	j.logger.Info("stale lead nudge job finished", "nudged", len(customers))
}
