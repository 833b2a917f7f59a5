/**
 * @description
 * Message payloads exchanged over RabbitMQ. The WhatsApp bridge publishes
 * InboundMessageEvent for every customer chat message; the lifecycle-service
 * publishes StageChangedEvent and MembershipCreditedEvent for downstream
 * consumers (analytics, CRM sync).
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// InboundMessageEvent is consumed from the `wa.message.inbound` routing key.
type InboundMessageEvent struct {
	Phone      string    `json:"phone"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// StageChangedEvent is published whenever a customer's stage advances.
type StageChangedEvent struct {
	CustomerID uuid.UUID `json:"customer_id"`
	From       Stage     `json:"from"`
	To         Stage     `json:"to"`
	Timestamp  time.Time `json:"timestamp"`
}

// MembershipCreditedEvent is published after a payment credits a membership.
type MembershipCreditedEvent struct {
	CustomerID   uuid.UUID `json:"customer_id"`
	MembershipID uuid.UUID `json:"membership_id"`
	Type         string    `json:"type"`
	Sessions     int       `json:"sessions"`
	Balance      int       `json:"balance"`
	Timestamp    time.Time `json:"timestamp"`
}
