/**
 * @description
 * This file defines the core domain models for the lifecycle-service.
 * These structs represent the main entities used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Monetary amounts are stored as `int64` in the smallest currency unit
 *   (agorot), which avoids floating-point inaccuracies.
 * - Customer.Phone is always the canonical digits-only international form
 *   (e.g. "972501234567"); it is the unique join key for inbound messages.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Customer represents a person progressing through salon onboarding.
// This struct maps directly to the `customers` table in the database.
type Customer struct {
	ID                uuid.UUID  `json:"id"`
	Phone             string     `json:"phone"`
	FullName          string     `json:"full_name"`
	Stage             Stage      `json:"stage"`
	WAOptIn           bool       `json:"wa_opt_in"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
	HealthFormSigned  bool       `json:"health_form_signed"`
	FaceRecognitionID *string    `json:"face_recognition_id,omitempty"`
	IsNewClient       bool       `json:"is_new_client"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Membership is a balance of prepaid sessions of one service type for one
// customer. A customer holds at most one active membership per type; repeat
// purchases of the same type top up the existing row.
type Membership struct {
	ID             uuid.UUID `json:"id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	Type           string    `json:"type"`
	Balance        int       `json:"balance"`
	TotalPurchased int       `json:"total_purchased"`
	ExpiryDate     time.Time `json:"expiry_date"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Transaction is an immutable record of one payment event. It is written once
// per payment-success webhook, keyed by the gateway's transaction id so that
// redelivered webhooks cannot create a second row.
type Transaction struct {
	ID                    uuid.UUID         `json:"id"`
	CustomerID            uuid.UUID         `json:"customer_id"`
	Type                  string            `json:"type"`   // e.g. 'membership', 'product', 'service'
	Status                string            `json:"status"` // e.g. 'completed', 'failed'
	Amount                int64             `json:"amount"` // in agorot
	Currency              string            `json:"currency"`
	ExternalTransactionID string            `json:"external_transaction_id"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

// CustomerListOptions controls pagination and filtering for admin listings.
type CustomerListOptions struct {
	Limit  int
	Offset int
	Stage  string
	Search string
}
