/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed to persist customers, memberships
 * and transactions.
 *
 * Key constraints relied on by the orchestrator:
 * - customers.phone is UNIQUE: two concurrent first-contact creates for the
 *   same number collapse into one row (the loser gets ErrDuplicatePhone and
 *   re-reads).
 * - transactions.external_transaction_id is UNIQUE: a redelivered payment
 *   webhook cannot insert a second row (ErrDuplicateTransaction).
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - internal/domain: Domain models used for data transfer.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/suntouch/lifecycle-service/internal/domain"
)

var (
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrMembershipNotFound   = errors.New("membership not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicatePhone       = errors.New("customer phone already exists")
	ErrDuplicateTransaction = errors.New("transaction already recorded")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const customerColumns = `id, phone, full_name, stage, wa_opt_in, last_message_at, health_form_signed, face_recognition_id, is_new_client, created_at, updated_at`

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(
		&c.ID,
		&c.Phone,
		&c.FullName,
		&c.Stage,
		&c.WAOptIn,
		&c.LastMessageAt,
		&c.HealthFormSigned,
		&c.FaceRecognitionID,
		&c.IsNewClient,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindCustomerByPhone retrieves a customer by their canonical phone number.
func (r *PostgresRepository) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE phone = $1`
	return scanCustomer(r.db.QueryRow(ctx, query, phone))
}

// FindCustomerByID retrieves a customer by their ID.
func (r *PostgresRepository) FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	return scanCustomer(r.db.QueryRow(ctx, query, customerID))
}

// CreateCustomer inserts a new customer row. A unique violation on the phone
// column is reported as ErrDuplicatePhone so the caller can re-read the row
// the concurrent request created.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, customer *domain.Customer) error {
	query := `
		INSERT INTO customers (id, phone, full_name, stage, wa_opt_in, last_message_at, health_form_signed, face_recognition_id, is_new_client, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`
	_, err := r.db.Exec(ctx, query,
		customer.ID,
		customer.Phone,
		customer.FullName,
		customer.Stage,
		customer.WAOptIn,
		customer.LastMessageAt,
		customer.HealthFormSigned,
		customer.FaceRecognitionID,
		customer.IsNewClient,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicatePhone
		}
		return err
	}
	return nil
}

// UpdateCustomer applies a partial update; nil params are skipped.
func (r *PostgresRepository) UpdateCustomer(ctx context.Context, customerID uuid.UUID, params UpdateCustomerParams) error {
	setClauses := "updated_at = now()"
	args := []interface{}{customerID}
	add := func(column string, value interface{}) {
		args = append(args, value)
		setClauses += fmt.Sprintf(", %s = $%d", column, len(args))
	}

	if params.FullName != nil {
		add("full_name", *params.FullName)
	}
	if params.Stage != nil {
		add("stage", *params.Stage)
	}
	if params.WAOptIn != nil {
		add("wa_opt_in", *params.WAOptIn)
	}
	if params.LastMessageAt != nil {
		add("last_message_at", *params.LastMessageAt)
	}
	if params.HealthFormSigned != nil {
		add("health_form_signed", *params.HealthFormSigned)
	}
	if params.FaceRecognitionID != nil {
		add("face_recognition_id", *params.FaceRecognitionID)
	}
	if params.IsNewClient != nil {
		add("is_new_client", *params.IsNewClient)
	}

	query := fmt.Sprintf("UPDATE customers SET %s WHERE id = $1", setClauses)
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// ListCustomers returns a page of customers for the admin API, newest first.
func (r *PostgresRepository) ListCustomers(ctx context.Context, opts domain.CustomerListOptions) ([]domain.Customer, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + customerColumns + ` FROM customers WHERE 1=1`
	args := []interface{}{}
	if opts.Stage != "" {
		args = append(args, opts.Stage)
		query += fmt.Sprintf(" AND stage = $%d", len(args))
	}
	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		query += fmt.Sprintf(" AND (full_name ILIKE $%d OR phone LIKE $%d)", len(args), len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

// FindStaleEngagementCustomers returns customers still sitting in the two
// engagement stages whose last contact is older than the given cutoff. Used
// by the nudge job to resend purchase options.
func (r *PostgresRepository) FindStaleEngagementCustomers(ctx context.Context, olderThan time.Time, limit int) ([]domain.Customer, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE stage IN ($1, $2)
		  AND wa_opt_in = true
		  AND last_message_at IS NOT NULL
		  AND last_message_at < $3
		ORDER BY last_message_at ASC
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, domain.StageLeadInbound, domain.StageWhatsAppEngaged, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

// FindMembershipsByCustomer lists all memberships a customer holds.
func (r *PostgresRepository) FindMembershipsByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Membership, error) {
	query := `
		SELECT id, customer_id, type, balance, total_purchased, expiry_date, is_active, created_at, updated_at
		FROM memberships
		WHERE customer_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.Type, &m.Balance, &m.TotalPurchased, &m.ExpiryDate, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// FindActiveMembershipByType retrieves the customer's active membership of the
// given service type, if one exists.
func (r *PostgresRepository) FindActiveMembershipByType(ctx context.Context, customerID uuid.UUID, membershipType string) (*domain.Membership, error) {
	var m domain.Membership
	query := `
		SELECT id, customer_id, type, balance, total_purchased, expiry_date, is_active, created_at, updated_at
		FROM memberships
		WHERE customer_id = $1 AND type = $2 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, customerID, membershipType).Scan(
		&m.ID, &m.CustomerID, &m.Type, &m.Balance, &m.TotalPurchased, &m.ExpiryDate, &m.IsActive, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &m, nil
}

// CreateMembership inserts a new membership row.
func (r *PostgresRepository) CreateMembership(ctx context.Context, membership *domain.Membership) error {
	query := `
		INSERT INTO memberships (id, customer_id, type, balance, total_purchased, expiry_date, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`
	_, err := r.db.Exec(ctx, query,
		membership.ID,
		membership.CustomerID,
		membership.Type,
		membership.Balance,
		membership.TotalPurchased,
		membership.ExpiryDate,
		membership.IsActive,
	)
	return err
}

// TopUpMembership increments balance and total_purchased together so the
// balance <= total_purchased invariant holds after every write.
func (r *PostgresRepository) TopUpMembership(ctx context.Context, membershipID uuid.UUID, sessions int) error {
	query := `
		UPDATE memberships
		SET balance = balance + $2, total_purchased = total_purchased + $2, updated_at = now()
		WHERE id = $1 AND is_active = true
	`
	tag, err := r.db.Exec(ctx, query, membershipID, sessions)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// DeactivateExpiredMemberships flips is_active off for every membership past
// its expiry date and returns how many rows were affected.
func (r *PostgresRepository) DeactivateExpiredMemberships(ctx context.Context) (int64, error) {
	query := `UPDATE memberships SET is_active = false, updated_at = now() WHERE is_active = true AND expiry_date < now()`
	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateTransaction inserts a payment record. The insert is the idempotency
// commit point: ON CONFLICT on the external transaction id turns a redelivered
// webhook into ErrDuplicateTransaction with no row written.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode transaction metadata: %w", err)
	}
	query := `
		INSERT INTO transactions (id, customer_id, type, status, amount, currency, external_transaction_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (external_transaction_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		tx.ID,
		tx.CustomerID,
		tx.Type,
		tx.Status,
		tx.Amount,
		tx.Currency,
		tx.ExternalTransactionID,
		metadata,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateTransaction
	}
	return nil
}

// FindTransactionByExternalID looks up a payment by the gateway's id.
func (r *PostgresRepository) FindTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	var t domain.Transaction
	var metadata []byte
	query := `
		SELECT id, customer_id, type, status, amount, currency, external_transaction_id, metadata, created_at
		FROM transactions
		WHERE external_transaction_id = $1
	`
	err := r.db.QueryRow(ctx, query, externalID).Scan(
		&t.ID, &t.CustomerID, &t.Type, &t.Status, &t.Amount, &t.Currency, &t.ExternalTransactionID, &metadata, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
		}
	}
	return &t, nil
}

// FindTransactionsByCustomer lists a customer's payments, newest first.
func (r *PostgresRepository) FindTransactionsByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT id, customer_id, type, status, amount, currency, external_transaction_id, metadata, created_at
		FROM transactions
		WHERE customer_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var metadata []byte
		if err := rows.Scan(&t.ID, &t.CustomerID, &t.Type, &t.Status, &t.Amount, &t.Currency, &t.ExternalTransactionID, &metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
			}
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}
