package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/suntouch/lifecycle-service/internal/domain"
)

type jobsRepoStub struct {
	*lifecycleRepoStub

	deactivated   int64
	deactivateErr error

	staleCustomers []domain.Customer
	staleErr       error
	staleCutoff    time.Time
	staleLimit     int
}

func (s *jobsRepoStub) DeactivateExpiredMemberships(ctx context.Context) (int64, error) {
	if s.deactivateErr != nil {
		return 0, s.deactivateErr
	}
	return s.deactivated, nil
}

func (s *jobsRepoStub) FindStaleEngagementCustomers(ctx context.Context, olderThan time.Time, limit int) ([]domain.Customer, error) {
	s.staleCutoff = olderThan
	s.staleLimit = limit
	if s.staleErr != nil {
		return nil, s.staleErr
	}
	return s.staleCustomers, nil
}

func newTestJobs(repo *jobsRepoStub, messenger *messengerStub, nudgeAfter time.Duration) *Jobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := newTestService(repo.lifecycleRepoStub, messenger, &publisherStub{}, nil)
	return NewJobs(repo, svc, logger, nudgeAfter, 50)
}

func TestDeactivateExpiredMembershipsSurvivesError(t *testing.T) {
	repo := &jobsRepoStub{lifecycleRepoStub: newLifecycleRepoStub(), deactivateErr: errors.New("connection refused")}
	jobs := newTestJobs(repo, &messengerStub{}, time.Hour)

	// Must not panic; the error is logged and the next run retries.
	jobs.DeactivateExpiredMemberships()
}

func TestNudgeStaleLeadsResendsEngagementMessage(t *testing.T) {
	repo := &jobsRepoStub{
		lifecycleRepoStub: newLifecycleRepoStub(),
		staleCustomers: []domain.Customer{
			{ID: uuid.New(), Phone: "972501234567", FullName: "Dana", Stage: domain.StageLeadInbound},
			{ID: uuid.New(), Phone: "972507654321", FullName: "Noa", Stage: domain.StageWhatsAppEngaged},
		},
	}
	messenger := &messengerStub{}
	jobs := newTestJobs(repo, messenger, 24*time.Hour)

	jobs.NudgeStaleLeads()

	if repo.staleLimit != 50 {
		t.Fatalf("expected batch limit 50, got %d", repo.staleLimit)
	}
	if got := time.Since(repo.staleCutoff); got < 23*time.Hour {
		t.Fatalf("expected cutoff roughly 24h in the past, got %s ago", got)
	}
	if len(messenger.sent) != 2 {
		t.Fatalf("expected 2 nudge messages, got %d", len(messenger.sent))
	}
	for _, msg := range messenger.sent {
		if msg.template != TemplatePurchaseOptions {
			t.Fatalf("expected %s template, got %s", TemplatePurchaseOptions, msg.template)
		}
	}
}

func TestNudgeStaleLeadsDisabledWithoutWindow(t *testing.T) {
	repo := &jobsRepoStub{lifecycleRepoStub: newLifecycleRepoStub()}
	jobs := newTestJobs(repo, &messengerStub{}, 0)

	jobs.NudgeStaleLeads()

	if !repo.staleCutoff.IsZero() {
		t.Fatal("expected no stale lookup when the nudge window is disabled")
	}
}
