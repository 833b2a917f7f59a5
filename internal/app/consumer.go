/**
 * @description
 * RabbitMQ consumer glue for inbound WhatsApp messages. The WhatsApp bridge
 * publishes one InboundMessageEvent per customer chat message; this consumer
 * feeds them into the orchestrator exactly like the HTTP webhook does.
 */
package app

import (
	"context"
	"encoding/json"
	"log"

	"github.com/suntouch/lifecycle-service/internal/domain"
)

// InboundMessageConsumer adapts raw queue deliveries into orchestrator calls.
type InboundMessageConsumer struct {
	svc *Service
}

// NewInboundMessageConsumer creates a consumer bound to the given service.
func NewInboundMessageConsumer(svc *Service) *InboundMessageConsumer {
	return &InboundMessageConsumer{svc: svc}
}

// HandleMessage processes one delivery. Returning true acks the message;
// returning false nacks it for redelivery. Malformed payloads are acked and
// dropped: redelivering them can never succeed.
func (c *InboundMessageConsumer) HandleMessage(body []byte) bool {
	var event domain.InboundMessageEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=wa_consumer msg=\"dropping malformed inbound message event\" err=%v", err)
		return true
	}
	if event.Phone == "" {
		log.Printf("level=warn component=wa_consumer msg=\"dropping inbound message event without phone\"")
		return true
	}

	if _, err := c.svc.HandleInboundMessage(context.Background(), event.Phone, event.Text); err != nil {
		log.Printf("level=error component=wa_consumer msg=\"inbound message processing failed; re-queuing\" phone=%s err=%v", event.Phone, err)
		return false
	}
	return true
}
