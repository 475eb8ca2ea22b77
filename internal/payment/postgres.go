package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // registers the postgres driver

	"github.com/hexacloud/storefront/internal/tracing"
)

// PostgresIntentRepository implements IntentRepository on PostgreSQL.
// The compare-and-set discipline maps to a conditional UPDATE, so the three
// reconciliation channels cannot overwrite each other's transitions.
type PostgresIntentRepository struct {
	db *sql.DB
}

// NewPostgresIntentRepository creates a repository on an existing connection pool.
func NewPostgresIntentRepository(db *sql.DB) *PostgresIntentRepository {
	return &PostgresIntentRepository{db: db}
}

// Schema is the DDL for the payment_intents table.
const Schema = `
CREATE TABLE IF NOT EXISTS payment_intents (
	payment_id     TEXT PRIMARY KEY,
	order_id       TEXT NOT NULL,
	invoice_id     TEXT NOT NULL,
	method         TEXT NOT NULL,
	amount         NUMERIC(12,2) NOT NULL,
	currency       TEXT NOT NULL,
	status         TEXT NOT NULL,
	transaction_id TEXT NOT NULL DEFAULT '',
	metadata       JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_payment_intents_invoice ON payment_intents (invoice_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_payment_intents_order ON payment_intents (order_id, created_at DESC);
`

// Migrate creates the payment_intents table if it does not exist.
func (r *PostgresIntentRepository) Migrate(ctx context.Context) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payment_intents", tracing.DBOperationExec)
	_, err := r.db.ExecContext(ctx, Schema)
	endSpan(err)
	return err
}

// Insert stores a new intent.
func (r *PostgresIntentRepository) Insert(ctx context.Context, intent *Intent) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payment_intents", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	metadata, err := json.Marshal(intent.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if intent.Metadata == nil {
		metadata = []byte("{}")
	}

	now := time.Now()
	if intent.CreatedAt == nil {
		intent.CreatedAt = &now
	}
	if intent.UpdatedAt == nil {
		intent.UpdatedAt = &now
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payment_intents
			(payment_id, order_id, invoice_id, method, amount, currency, status, transaction_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		intent.PaymentID, intent.OrderID, intent.InvoiceID, intent.Method,
		intent.Amount, intent.Currency, intent.Status, intent.TransactionID,
		metadata, *intent.CreatedAt, *intent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment intent: %w", err)
	}
	return nil
}

// GetByPaymentID retrieves an intent by its payment ID.
func (r *PostgresIntentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*Intent, error) {
	return r.getOne(ctx, `WHERE payment_id = $1`, paymentID)
}

// GetByInvoiceID retrieves the most recent intent for an invoice.
func (r *PostgresIntentRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*Intent, error) {
	return r.getOne(ctx, `WHERE invoice_id = $1 ORDER BY created_at DESC LIMIT 1`, invoiceID)
}

// GetByOrderID retrieves the most recent intent for an order.
func (r *PostgresIntentRepository) GetByOrderID(ctx context.Context, orderID string) (*Intent, error) {
	return r.getOne(ctx, `WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID)
}

func (r *PostgresIntentRepository) getOne(ctx context.Context, where string, arg string) (_ *Intent, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payment_intents", tracing.DBOperationQuery)
	defer func() {
		if errors.Is(err, ErrIntentNotFound) {
			// Not-found is an expected outcome, not a span error.
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	row := r.db.QueryRowContext(ctx, `
		SELECT payment_id, order_id, invoice_id, method, amount, currency, status, transaction_id, metadata, created_at, updated_at
		FROM payment_intents `+where, arg)

	var intent Intent
	var metadata []byte
	var createdAt, updatedAt time.Time
	err = row.Scan(&intent.PaymentID, &intent.OrderID, &intent.InvoiceID, &intent.Method,
		&intent.Amount, &intent.Currency, &intent.Status, &intent.TransactionID,
		&metadata, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &intent.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	intent.CreatedAt = &createdAt
	intent.UpdatedAt = &updatedAt
	return &intent, nil
}

// UpdateStatus transitions an intent with a conditional UPDATE. A zero row
// count means either the intent is missing or another channel won the race.
func (r *PostgresIntentRepository) UpdateStatus(ctx context.Context, paymentID, from, to, transactionID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payment_intents", tracing.DBOperationUpdate)
	defer func() {
		if errors.Is(err, ErrStaleStatus) {
			// Losing a CAS race is part of normal reconciliation.
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $1,
		    transaction_id = CASE WHEN $2 <> '' THEN $2 ELSE transaction_id END,
		    updated_at = now()
		WHERE payment_id = $3 AND status = $4`,
		to, transactionID, paymentID, from)
	if err != nil {
		return fmt.Errorf("failed to update payment intent: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetByPaymentID(ctx, paymentID); errors.Is(err, ErrIntentNotFound) {
			return ErrIntentNotFound
		}
		return ErrStaleStatus
	}
	return nil
}
