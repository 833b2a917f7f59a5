/**
 * @description
 * The stage transition table. Each entry describes the side effect the
 * orchestrator fires when it evaluates a customer currently in that stage,
 * and the stage written afterwards. Stages with no entry are waiting states:
 * they are entered by an explicit completion event (payment webhook, form
 * submission, face enrollment) and evaluating them is a logged no-op.
 *
 * Keeping the table in one place makes the total order and the sparse set of
 * auto-advancing states auditable and unit-testable per (stage, event) pair.
 */
package app

import (
	"context"

	"github.com/suntouch/lifecycle-service/internal/domain"
	"github.com/suntouch/lifecycle-service/internal/store"
)

// stageStep is one transition table entry.
type stageStep struct {
	// run performs the stage's side effect (usually an outbound message).
	// The receiver comes first so method expressions slot in directly.
	run func(s *Service, ctx context.Context, c *domain.Customer) error
	// next is the stage written after the side effect.
	next domain.Stage
	// foldForward marks completion stages that must never be left standing:
	// the stage advances even when the side effect fails, because the stage
	// record is the source of truth and the notification is best-effort.
	foldForward bool
}

// stageSteps is the transition table. lead_inbound and whatsapp_engaged are
// kept as two distinct entries even though their behavior is currently
// identical, so they can diverge later without restructuring.
var stageSteps = map[domain.Stage]stageStep{
	domain.StageLeadInbound: {
		run:  (*Service).sendPurchaseOptions,
		next: domain.StageCheckoutLinkSent,
	},
	domain.StageWhatsAppEngaged: {
		run:  (*Service).sendPurchaseOptions,
		next: domain.StageCheckoutLinkSent,
	},
	domain.StagePaymentSuccess: {
		run:         (*Service).sendOnboardingLinks,
		next:        domain.StageHealthFormSent,
		foldForward: true,
	},
	domain.StageFaceEnrolled: {
		run:         (*Service).completeOnboarding,
		next:        domain.StageActive,
		foldForward: true,
	},
}

// sendPurchaseOptions messages the customer the package overview together
// with their personal checkout link.
func (s *Service) sendPurchaseOptions(ctx context.Context, c *domain.Customer) error {
	return s.messenger.SendTemplate(ctx, c.Phone, TemplatePurchaseOptions, map[string]string{
		"name":         c.FullName,
		"checkout_url": s.checkoutURL(c),
	})
}

// sendOnboardingLinks messages the health declaration form and the face
// registration link after a successful payment.
func (s *Service) sendOnboardingLinks(ctx context.Context, c *domain.Customer) error {
	if err := s.messenger.SendTemplate(ctx, c.Phone, TemplateHealthFormLink, map[string]string{
		"name": c.FullName,
		"url":  s.healthFormURL(c),
	}); err != nil {
		return err
	}
	return s.messenger.SendTemplate(ctx, c.Phone, TemplateFaceRegistrationLink, map[string]string{
		"name": c.FullName,
		"url":  s.faceEnrollURL(c),
	})
}

// completeOnboarding sends the welcome-aboard message and clears the
// new-client flag; the customer is fully onboarded after this.
func (s *Service) completeOnboarding(ctx context.Context, c *domain.Customer) error {
	isNew := false
	if err := s.repo.UpdateCustomer(ctx, c.ID, store.UpdateCustomerParams{IsNewClient: &isNew}); err != nil {
		return err
	}
	c.IsNewClient = false
	return s.messenger.SendTemplate(ctx, c.Phone, TemplateOnboardingComplete, map[string]string{
		"name": c.FullName,
	})
}
