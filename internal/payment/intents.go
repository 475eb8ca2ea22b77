package payment

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrIntentNotFound is returned when no intent matches the given identifier.
// Distinct from transient lookup failures, which surface the storage error.
var ErrIntentNotFound = errors.New("payment intent not found")

// ErrStaleStatus is returned when a compare-and-set update observes a
// different current status than expected. The reconciler treats this as a
// lost race and re-reads the intent.
var ErrStaleStatus = errors.New("payment intent status changed concurrently")

// IntentRepository defines persistence for payment intents. The three
// reconciliation channels (return redirect, webhook, poll) may race for the
// same intent, so status updates are compare-and-set on (paymentID, from).
type IntentRepository interface {
	// Insert stores a new intent. The intent's PaymentID must be unique.
	Insert(ctx context.Context, intent *Intent) error

	// GetByPaymentID retrieves an intent by its payment ID.
	GetByPaymentID(ctx context.Context, paymentID string) (*Intent, error)

	// GetByInvoiceID retrieves the most recent intent for an invoice.
	GetByInvoiceID(ctx context.Context, invoiceID string) (*Intent, error)

	// GetByOrderID retrieves the most recent intent for an order.
	GetByOrderID(ctx context.Context, orderID string) (*Intent, error)

	// UpdateStatus transitions an intent from one status to another,
	// optionally recording the gateway transaction ID. Returns ErrStaleStatus
	// when the stored status no longer equals from.
	UpdateStatus(ctx context.Context, paymentID, from, to, transactionID string) error
}

// InMemoryIntentRepository implements IntentRepository with in-memory storage.
// Used for testing and single-instance deployments.
type InMemoryIntentRepository struct {
	mu      sync.RWMutex
	intents map[string]*Intent
}

// NewInMemoryIntentRepository creates a new in-memory intent repository.
func NewInMemoryIntentRepository() *InMemoryIntentRepository {
	return &InMemoryIntentRepository{
		intents: make(map[string]*Intent),
	}
}

// Insert stores a new intent.
func (r *InMemoryIntentRepository) Insert(ctx context.Context, intent *Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.intents[intent.PaymentID]; exists {
		return errors.New("payment intent already exists")
	}

	now := time.Now()
	if intent.CreatedAt == nil {
		intent.CreatedAt = &now
	}
	if intent.UpdatedAt == nil {
		intent.UpdatedAt = &now
	}

	// Deep copy to prevent external mutation
	r.intents[intent.PaymentID] = copyIntent(intent)
	return nil
}

// GetByPaymentID retrieves an intent by its payment ID.
func (r *InMemoryIntentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*Intent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	intent, ok := r.intents[paymentID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return copyIntent(intent), nil
}

// GetByInvoiceID retrieves the most recently created intent for an invoice.
func (r *InMemoryIntentRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*Intent, error) {
	return r.findLatest(func(i *Intent) bool { return i.InvoiceID == invoiceID })
}

// GetByOrderID retrieves the most recently created intent for an order.
func (r *InMemoryIntentRepository) GetByOrderID(ctx context.Context, orderID string) (*Intent, error) {
	return r.findLatest(func(i *Intent) bool { return i.OrderID == orderID })
}

func (r *InMemoryIntentRepository) findLatest(match func(*Intent) bool) (*Intent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *Intent
	for _, intent := range r.intents {
		if !match(intent) {
			continue
		}
		if latest == nil || intent.CreatedAt.After(*latest.CreatedAt) {
			latest = intent
		}
	}
	if latest == nil {
		return nil, ErrIntentNotFound
	}
	return copyIntent(latest), nil
}

// UpdateStatus transitions an intent with compare-and-set semantics.
func (r *InMemoryIntentRepository) UpdateStatus(ctx context.Context, paymentID, from, to, transactionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[paymentID]
	if !ok {
		return ErrIntentNotFound
	}
	if intent.Status != from {
		return ErrStaleStatus
	}

	now := time.Now()
	intent.Status = to
	intent.UpdatedAt = &now
	if transactionID != "" {
		intent.TransactionID = transactionID
	}
	return nil
}

func copyIntent(intent *Intent) *Intent {
	copied := *intent
	if intent.Metadata != nil {
		copied.Metadata = make(map[string]string, len(intent.Metadata))
		for k, v := range intent.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}
