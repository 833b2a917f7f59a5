/**
 * @description
 * This file contains the core business logic for the lifecycle-service. The
 * `Service` struct is the workflow orchestrator: it owns every stage write,
 * decides what to send or do next given a customer's current stage and an
 * incoming event, and persists stage changes through the store.Repository
 * interface.
 *
 * Key properties:
 * - Stage writes are monotonic: setStage refuses to move a customer backwards
 *   in the lifecycle order.
 * - Outbound messages are best-effort: a failed send is logged, never fatal
 *   to the stage record or the webhook caller.
 * - Payment crediting is idempotent on the gateway transaction id: a
 *   redelivered webhook neither writes a second transaction row nor credits
 *   the membership twice.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/catalog, internal/domain, internal/store: Catalog, models, data access.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/suntouch/lifecycle-service/internal/catalog"
	"github.com/suntouch/lifecycle-service/internal/domain"
	"github.com/suntouch/lifecycle-service/internal/store"
)

// WhatsApp template keys used by the orchestrator.
const (
	TemplateWelcome              = "welcome"
	TemplatePurchaseOptions      = "purchase_options"
	TemplatePaymentSuccess       = "payment_success"
	TemplateHealthFormLink       = "health_form_link"
	TemplateFaceRegistrationLink = "face_registration_link"
	TemplateOnboardingComplete   = "onboarding_complete"
)

// EventsExchange is the topic exchange lifecycle events are published to.
const EventsExchange = "suncare.events"

// Messenger sends templated WhatsApp messages. Delivery failure comes back as
// an error, never a panic; the orchestrator logs it and moves on.
type Messenger interface {
	SendTemplate(ctx context.Context, to, templateKey string, params map[string]string) error
}

// EventPublisher publishes lifecycle events for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// PaymentDeduper is the fast-path duplicate check for payment webhooks.
// MarkProcessed returns false when the transaction id was already seen;
// Unmark releases the marker when the durable write behind it failed, so a
// gateway retry is not dropped. The durable guard is the unique constraint
// on transactions; the deduper only saves a round trip on hot redeliveries.
type PaymentDeduper interface {
	MarkProcessed(ctx context.Context, transactionID string) (bool, error)
	Unmark(ctx context.Context, transactionID string) error
}

// Links carries the customer-facing URL bases the orchestrator embeds in
// outbound messages.
type Links struct {
	CheckoutBaseURL   string
	HealthFormBaseURL string
	FaceEnrollBaseURL string
}

// Service provides the core business logic for the customer lifecycle.
type Service struct {
	repo      store.Repository
	messenger Messenger
	events    EventPublisher
	dedupe    PaymentDeduper

	countryCode          string
	membershipExpiryDays int
	links                Links
}

// NewService creates a new lifecycle service instance.
func NewService(repo store.Repository, messenger Messenger, events EventPublisher, dedupe PaymentDeduper, countryCode string, membershipExpiryDays int, links Links) *Service {
	if countryCode == "" {
		countryCode = "972"
	}
	if membershipExpiryDays <= 0 {
		membershipExpiryDays = 90
	}
	return &Service{
		repo:                 repo,
		messenger:            messenger,
		events:               events,
		dedupe:               dedupe,
		countryCode:          countryCode,
		membershipExpiryDays: membershipExpiryDays,
		links:                links,
	}
}

// HandleInboundMessage processes one inbound chat message from a customer.
// Unknown numbers become new leads; known numbers get their last-contact
// timestamp bumped. Either way the transition table entry for the customer's
// current stage is evaluated afterwards.
func (s *Service) HandleInboundMessage(ctx context.Context, rawPhone, text string) (*domain.Customer, error) {
	phone := normalizePhone(rawPhone, s.countryCode)
	if phone == "" {
		return nil, fmt.Errorf("inbound message carries no usable phone digits: %q", rawPhone)
	}
	now := time.Now().UTC()

	customer, err := s.repo.FindCustomerByPhone(ctx, phone)
	switch {
	case err == nil:
		if updErr := s.repo.UpdateCustomer(ctx, customer.ID, store.UpdateCustomerParams{LastMessageAt: &now}); updErr != nil {
			return nil, fmt.Errorf("failed to bump last_message_at: %w", updErr)
		}
		customer.LastMessageAt = &now
	case errors.Is(err, store.ErrCustomerNotFound):
		customer = &domain.Customer{
			ID:            uuid.New(),
			Phone:         phone,
			FullName:      placeholderName(phone),
			Stage:         domain.StageLeadInbound,
			WAOptIn:       true,
			LastMessageAt: &now,
			IsNewClient:   true,
		}
		if createErr := s.repo.CreateCustomer(ctx, customer); createErr != nil {
			if !errors.Is(createErr, store.ErrDuplicatePhone) {
				return nil, fmt.Errorf("failed to create customer: %w", createErr)
			}
			// Lost the create race; the concurrent request owns the row now.
			customer, err = s.repo.FindCustomerByPhone(ctx, phone)
			if err != nil {
				return nil, fmt.Errorf("failed to re-read customer after duplicate phone: %w", err)
			}
		} else {
			log.Printf("level=info component=lifecycle msg=\"new lead created\" customer_id=%s phone=%s", customer.ID, phone)
			if sendErr := s.messenger.SendTemplate(ctx, customer.Phone, TemplateWelcome, map[string]string{
				"name": customer.FullName,
			}); sendErr != nil {
				log.Printf("WARN: welcome send failed for customer %s: %v", customer.ID, sendErr)
			}
		}
	default:
		return nil, fmt.Errorf("failed to look up customer by phone: %w", err)
	}

	log.Printf("level=info component=lifecycle msg=\"inbound message\" customer_id=%s stage=%s text_len=%d", customer.ID, customer.Stage, len(text))
	s.Advance(ctx, customer)
	return customer, nil
}

// Advance evaluates the transition table entry for the customer's current
// stage. Waiting states are a logged no-op. When the side effect fails in a
// non-fold-forward stage, the stage is left unchanged so the next real-world
// event can re-attempt it (at-most-one-attempt-per-event).
func (s *Service) Advance(ctx context.Context, customer *domain.Customer) {
	step, ok := stageSteps[customer.Stage]
	if !ok {
		log.Printf("level=info component=lifecycle msg=\"no transition for stage; waiting\" customer_id=%s stage=%s", customer.ID, customer.Stage)
		return
	}

	if err := step.run(s, ctx, customer); err != nil {
		log.Printf("WARN: stage side effect failed for customer %s at %s: %v", customer.ID, customer.Stage, err)
		if !step.foldForward {
			return
		}
	}

	if err := s.setStage(ctx, customer, step.next, store.UpdateCustomerParams{}); err != nil {
		log.Printf("level=error component=lifecycle msg=\"stage write failed\" customer_id=%s from=%s to=%s err=%v", customer.ID, customer.Stage, step.next, err)
	}
}

// HandleCheckoutOpened records that the customer opened a hosted checkout
// page. payment_pending is a waiting state; the stage guard makes the call a
// no-op for customers already past it.
func (s *Service) HandleCheckoutOpened(ctx context.Context, customerID uuid.UUID) error {
	customer, err := s.repo.FindCustomerByID(ctx, customerID)
	if err != nil {
		return fmt.Errorf("checkout customer lookup failed: %w", err)
	}
	return s.setStage(ctx, customer, domain.StagePaymentPending, store.UpdateCustomerParams{})
}

// HandlePaymentSuccess records a completed payment and credits the matching
// membership, then folds the customer forward into health_form_sent.
// Redelivering the same transactionID is a logged no-op after the dedupe
// short-circuit.
func (s *Service) HandlePaymentSuccess(ctx context.Context, customerID uuid.UUID, packageID, transactionID string, amount int64) error {
	customer, err := s.repo.FindCustomerByID(ctx, customerID)
	if err != nil {
		log.Printf("level=error component=lifecycle msg=\"payment for unknown customer\" customer_id=%s txn_id=%s err=%v", customerID, transactionID, err)
		return fmt.Errorf("payment customer lookup failed: %w", err)
	}

	pkg, err := s.resolvePackage(packageID, amount)
	if err != nil {
		log.Printf("level=error component=lifecycle msg=\"payment for unknown package\" customer_id=%s package_id=%s txn_id=%s err=%v", customerID, packageID, transactionID, err)
		return fmt.Errorf("payment package lookup failed: %w", err)
	}

	// Fast-path dedupe. Redis being down is not a correctness problem; the
	// unique constraint on the transaction insert below is the durable guard.
	marked := false
	if s.dedupe != nil {
		fresh, dedupeErr := s.dedupe.MarkProcessed(ctx, transactionID)
		if dedupeErr != nil {
			log.Printf("WARN: payment dedupe check unavailable for txn %s: %v", transactionID, dedupeErr)
		} else if !fresh {
			log.Printf("level=info component=lifecycle msg=\"duplicate payment webhook dropped\" customer_id=%s txn_id=%s", customerID, transactionID)
			return nil
		} else {
			marked = true
		}
	}

	txRecord := &domain.Transaction{
		ID:                    uuid.New(),
		CustomerID:            customer.ID,
		Type:                  "membership",
		Status:                "completed",
		Amount:                amount,
		Currency:              pkg.Currency,
		ExternalTransactionID: transactionID,
		Metadata: map[string]string{
			"package_id": pkg.ID,
			"sessions":   fmt.Sprintf("%d", pkg.Sessions),
		},
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			log.Printf("level=info component=lifecycle msg=\"payment already recorded; skipping credit\" customer_id=%s txn_id=%s", customerID, transactionID)
			return nil
		}
		// The dedupe marker must not outlive a failed insert: the gateway will
		// retry after our 500, and that retry has to reach the database.
		if marked {
			if unmarkErr := s.dedupe.Unmark(ctx, transactionID); unmarkErr != nil {
				log.Printf("WARN: failed to release dedupe marker for txn %s: %v", transactionID, unmarkErr)
			}
		}
		return fmt.Errorf("failed to create transaction record: %w", err)
	}

	membership, err := s.creditMembership(ctx, customer.ID, pkg)
	if err != nil {
		// The transaction row exists without its balance credit. Surface the
		// failure loudly; reconciliation is an operator action.
		log.Printf("CRITICAL: membership credit failed after recording txn %s for customer %s: %v", transactionID, customer.ID, err)
		return fmt.Errorf("failed to credit membership: %w", err)
	}

	s.publish(ctx, "membership.credited", domain.MembershipCreditedEvent{
		CustomerID:   customer.ID,
		MembershipID: membership.ID,
		Type:         membership.Type,
		Sessions:     pkg.Sessions,
		Balance:      membership.Balance,
		Timestamp:    time.Now().UTC(),
	})

	if err := s.messenger.SendTemplate(ctx, customer.Phone, TemplatePaymentSuccess, map[string]string{
		"name":    customer.FullName,
		"package": pkg.NameEN,
	}); err != nil {
		log.Printf("WARN: payment confirmation send failed for customer %s: %v", customer.ID, err)
	}

	if err := s.setStage(ctx, customer, domain.StagePaymentSuccess, store.UpdateCustomerParams{}); err != nil {
		return fmt.Errorf("failed to record payment_success stage: %w", err)
	}

	// payment_success is never left standing: fold straight into
	// health_form_sent via its transition table entry.
	s.Advance(ctx, customer)
	return nil
}

// HandleHealthFormComplete marks the signed health declaration. No message is
// sent here; the customer hears from us again only at the next milestone
// (face enrollment), to avoid spamming two closely-spaced onboarding steps.
func (s *Service) HandleHealthFormComplete(ctx context.Context, customerID uuid.UUID) error {
	customer, err := s.repo.FindCustomerByID(ctx, customerID)
	if err != nil {
		return fmt.Errorf("health form customer lookup failed: %w", err)
	}

	signed := true
	if err := s.setStage(ctx, customer, domain.StageHealthFormCompleted, store.UpdateCustomerParams{HealthFormSigned: &signed}); err != nil {
		return fmt.Errorf("failed to record health form completion: %w", err)
	}
	customer.HealthFormSigned = true
	log.Printf("level=info component=lifecycle msg=\"health form signed\" customer_id=%s", customer.ID)
	return nil
}

// HandleFaceRegistrationComplete stores the biometric enrollment id, then
// folds the customer forward into active.
func (s *Service) HandleFaceRegistrationComplete(ctx context.Context, customerID uuid.UUID, faceRecognitionID string) error {
	customer, err := s.repo.FindCustomerByID(ctx, customerID)
	if err != nil {
		return fmt.Errorf("face registration customer lookup failed: %w", err)
	}

	if err := s.setStage(ctx, customer, domain.StageFaceEnrolled, store.UpdateCustomerParams{FaceRecognitionID: &faceRecognitionID}); err != nil {
		return fmt.Errorf("failed to record face enrollment: %w", err)
	}
	customer.FaceRecognitionID = &faceRecognitionID

	// face_enrolled is never left standing: fold into active.
	s.Advance(ctx, customer)
	return nil
}

// setStage is the single write path for the stage column. It enforces
// monotonicity: a write that would regress the customer in the lifecycle
// order is logged and skipped (the extra field updates are skipped with it).
func (s *Service) setStage(ctx context.Context, customer *domain.Customer, next domain.Stage, params store.UpdateCustomerParams) error {
	if customer.Stage == next {
		return nil
	}
	if next.Before(customer.Stage) {
		log.Printf("WARN: refusing stage regression for customer %s: %s -> %s", customer.ID, customer.Stage, next)
		return nil
	}

	params.Stage = &next
	if err := s.repo.UpdateCustomer(ctx, customer.ID, params); err != nil {
		return err
	}

	from := customer.Stage
	customer.Stage = next
	log.Printf("level=info component=lifecycle msg=\"stage advanced\" customer_id=%s from=%s to=%s", customer.ID, from, next)

	s.publish(ctx, "customer.stage.changed", domain.StageChangedEvent{
		CustomerID: customer.ID,
		From:       from,
		To:         next,
		Timestamp:  time.Now().UTC(),
	})
	return nil
}

// creditMembership tops up the customer's active membership of the package's
// type, or creates one on first purchase.
func (s *Service) creditMembership(ctx context.Context, customerID uuid.UUID, pkg catalog.Package) (*domain.Membership, error) {
	membership, err := s.repo.FindActiveMembershipByType(ctx, customerID, pkg.Type)
	if err == nil {
		if err := s.repo.TopUpMembership(ctx, membership.ID, pkg.Sessions); err != nil {
			return nil, fmt.Errorf("failed to top up membership %s: %w", membership.ID, err)
		}
		membership.Balance += pkg.Sessions
		membership.TotalPurchased += pkg.Sessions
		return membership, nil
	}
	if !errors.Is(err, store.ErrMembershipNotFound) {
		return nil, fmt.Errorf("failed to look up membership: %w", err)
	}

	membership = &domain.Membership{
		ID:             uuid.New(),
		CustomerID:     customerID,
		Type:           pkg.Type,
		Balance:        pkg.Sessions,
		TotalPurchased: pkg.Sessions,
		ExpiryDate:     time.Now().UTC().AddDate(0, 0, s.membershipExpiryDays),
		IsActive:       true,
	}
	if err := s.repo.CreateMembership(ctx, membership); err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}
	return membership, nil
}

// resolvePackage maps a webhook package id onto a catalog entry. The
// custom-tan offering has no static entry; its session count is derived from
// the paid amount at the fixed per-session rate.
func (s *Service) resolvePackage(packageID string, amount int64) (catalog.Package, error) {
	if packageID == catalog.CustomTanID {
		if amount <= 0 || amount%catalog.CustomTanPerSessionAgorot != 0 {
			return catalog.Package{}, fmt.Errorf("custom-tan amount %d is not a whole number of sessions: %w", amount, catalog.ErrInvalidSessionCount)
		}
		return catalog.CustomSessionPackage(int(amount / catalog.CustomTanPerSessionAgorot))
	}
	return catalog.GetPackageByID(packageID)
}

// publish sends a lifecycle event, best-effort. A missing or failing broker
// never blocks a stage write.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, EventsExchange, routingKey, body); err != nil {
		log.Printf("WARN: failed to publish %s event: %v", routingKey, err)
	}
}

func (s *Service) checkoutURL(c *domain.Customer) string {
	return fmt.Sprintf("%s/%s", s.links.CheckoutBaseURL, c.ID)
}

func (s *Service) healthFormURL(c *domain.Customer) string {
	return fmt.Sprintf("%s/%s", s.links.HealthFormBaseURL, c.ID)
}

func (s *Service) faceEnrollURL(c *domain.Customer) string {
	return fmt.Sprintf("%s/%s", s.links.FaceEnrollBaseURL, c.ID)
}

// placeholderName derives the display name used until the customer tells us
// their real one.
func placeholderName(phone string) string {
	if len(phone) < 4 {
		return "Guest " + phone
	}
	return "Guest " + phone[len(phone)-4:]
}
