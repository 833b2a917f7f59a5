/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the lifecycle-service. Defining
 * an interface decouples the orchestrator's business logic from the PostgreSQL
 * implementation and lets tests substitute in-memory stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/suntouch/lifecycle-service/internal/domain"
)

// UpdateCustomerParams carries a partial customer update; nil fields are left
// untouched by the write.
type UpdateCustomerParams struct {
	FullName          *string
	Stage             *domain.Stage
	WAOptIn           *bool
	LastMessageAt     *time.Time
	HealthFormSigned  *bool
	FaceRecognitionID *string
	IsNewClient       *bool
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Customer methods
	FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer *domain.Customer) error
	UpdateCustomer(ctx context.Context, customerID uuid.UUID, params UpdateCustomerParams) error
	ListCustomers(ctx context.Context, opts domain.CustomerListOptions) ([]domain.Customer, error)
	FindStaleEngagementCustomers(ctx context.Context, olderThan time.Time, limit int) ([]domain.Customer, error)

	// Membership methods
	FindMembershipsByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Membership, error)
	FindActiveMembershipByType(ctx context.Context, customerID uuid.UUID, membershipType string) (*domain.Membership, error)
	CreateMembership(ctx context.Context, membership *domain.Membership) error
	TopUpMembership(ctx context.Context, membershipID uuid.UUID, sessions int) error
	DeactivateExpiredMemberships(ctx context.Context) (int64, error)

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)
	FindTransactionsByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Transaction, error)
}
