/**
 * @description
 * This file defines the onboarding Stage enum and its total order. A customer's
 * stage only ever moves forward through this order; the orchestrator's stage
 * guard rejects any write that would regress it.
 */
package domain

// Stage identifies where a customer sits in the onboarding lifecycle.
type Stage string

const (
	StageLeadInbound         Stage = "lead_inbound"
	StageWhatsAppEngaged     Stage = "whatsapp_engaged"
	StageCheckoutLinkSent    Stage = "checkout_link_sent"
	StagePaymentPending      Stage = "payment_pending"
	StagePaymentSuccess      Stage = "payment_success"
	StageHealthFormSent      Stage = "health_form_sent"
	StageHealthFormCompleted Stage = "health_form_completed"
	StageFaceLinkSent        Stage = "face_link_sent"
	StageFaceEnrolled        Stage = "face_enrolled"
	StageActive              Stage = "active"
)

// stageOrder maps each stage to its position in the onboarding progression.
var stageOrder = map[Stage]int{
	StageLeadInbound:         0,
	StageWhatsAppEngaged:     1,
	StageCheckoutLinkSent:    2,
	StagePaymentPending:      3,
	StagePaymentSuccess:      4,
	StageHealthFormSent:      5,
	StageHealthFormCompleted: 6,
	StageFaceLinkSent:        7,
	StageFaceEnrolled:        8,
	StageActive:              9,
}

// Known reports whether s is one of the defined lifecycle stages.
func (s Stage) Known() bool {
	_, ok := stageOrder[s]
	return ok
}

// Before reports whether s comes strictly before other in the lifecycle order.
// Unknown stages are treated as earliest so a corrupt value can always be
// repaired by a forward write.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}
