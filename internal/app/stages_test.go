package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/suntouch/lifecycle-service/internal/domain"
)

func TestStageStepsRunAndTargetStage(t *testing.T) {
	cases := []struct {
		stage     domain.Stage
		next      domain.Stage
		templates []string
	}{
		{domain.StageLeadInbound, domain.StageCheckoutLinkSent, []string{TemplatePurchaseOptions}},
		{domain.StageWhatsAppEngaged, domain.StageCheckoutLinkSent, []string{TemplatePurchaseOptions}},
		{domain.StagePaymentSuccess, domain.StageHealthFormSent, []string{TemplateHealthFormLink, TemplateFaceRegistrationLink}},
		{domain.StageFaceEnrolled, domain.StageActive, []string{TemplateOnboardingComplete}},
	}
	for _, tc := range cases {
		t.Run(string(tc.stage), func(t *testing.T) {
			repo := newLifecycleRepoStub()
			messenger := &messengerStub{}
			svc := newTestService(repo, messenger, &publisherStub{}, nil)
			customer := &domain.Customer{
				ID:       uuid.New(),
				Phone:    "972501234567",
				FullName: "Dana",
				Stage:    tc.stage,
			}
			repo.addCustomer(customer)

			step, ok := stageSteps[tc.stage]
			if !ok {
				t.Fatalf("expected a transition entry for %q", tc.stage)
			}
			if step.next != tc.next {
				t.Fatalf("expected %q to advance to %q, got %q", tc.stage, tc.next, step.next)
			}
			if err := step.run(svc, context.Background(), customer); err != nil {
				t.Fatalf("side effect for %q returned error: %v", tc.stage, err)
			}

			got := messenger.templates()
			if len(got) != len(tc.templates) {
				t.Fatalf("expected templates %v for %q, got %v", tc.templates, tc.stage, got)
			}
			for i := range tc.templates {
				if got[i] != tc.templates[i] {
					t.Fatalf("expected templates %v for %q, got %v", tc.templates, tc.stage, got)
				}
			}
		})
	}
}

func TestFoldForwardStagesAreCompletionStages(t *testing.T) {
	for stage, step := range stageSteps {
		folds := stage == domain.StagePaymentSuccess || stage == domain.StageFaceEnrolled
		if step.foldForward != folds {
			t.Fatalf("unexpected foldForward=%v for stage %q", step.foldForward, stage)
		}
	}
}
