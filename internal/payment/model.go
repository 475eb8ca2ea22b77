// Package payment provides payment method selection, intent lifecycle
// tracking and reconciliation of asynchronous gateway outcomes.
package payment

import "time"

// Canonical intent statuses. The vocabulary is the same regardless of the
// originating gateway.
const (
	StatusInitialized                = "initialized"
	StatusPendingRedirect            = "pending_redirect"
	StatusAwaitingManualInstructions = "awaiting_manual_instructions"
	StatusPendingConfirmation        = "pending_confirmation"
	StatusSucceeded                  = "succeeded"
	StatusFailed                     = "failed"
	StatusCancelled                  = "cancelled"
)

// IsTerminal reports whether status permits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the forward-only state table. Terminal states have no entries.
var transitions = map[string]map[string]bool{
	StatusInitialized: {
		StatusPendingRedirect:            true,
		StatusAwaitingManualInstructions: true,
		StatusPendingConfirmation:        true,
		StatusSucceeded:                  true,
		StatusFailed:                     true,
		StatusCancelled:                  true,
	},
	StatusPendingRedirect: {
		StatusPendingConfirmation: true,
		StatusSucceeded:           true,
		StatusFailed:              true,
		StatusCancelled:           true,
	},
	StatusAwaitingManualInstructions: {
		StatusPendingConfirmation: true,
		StatusSucceeded:           true,
		StatusFailed:              true,
		StatusCancelled:           true,
	},
	StatusPendingConfirmation: {
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether from -> to is a legal forward transition.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// Supported payment methods.
const (
	MethodCard         = "card"
	MethodPayPal       = "paypal"
	MethodBankTransfer = "bank_transfer"
	MethodCrypto       = "crypto"
	MethodRedirect     = "redirect"
)

// KnownMethod reports whether method is in the supported set at all,
// independent of whether the deployment has it enabled.
func KnownMethod(method string) bool {
	switch method {
	case MethodCard, MethodPayPal, MethodBankTransfer, MethodCrypto, MethodRedirect:
		return true
	}
	return false
}

// Gateways the reconciler can classify inbound signals for.
const (
	GatewayStripe  = "stripe"
	GatewayPayPal  = "paypal"
	GatewayCrypto  = "crypto"
	GatewayBilling = "billing" // the billing backend's hosted checkout callback
)

// Intent is the storefront's record of one payment attempt, independent of
// the billing backend's own invoice state. Created at initialization and
// mutated only by the reconciler; terminal states are final.
type Intent struct {
	PaymentID     string            `json:"payment_id"`
	OrderID       string            `json:"order_id"`
	InvoiceID     string            `json:"invoice_id"`
	Method        string            `json:"method"`
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     *time.Time        `json:"created_at,omitempty"`
	UpdatedAt     *time.Time        `json:"updated_at,omitempty"`
}

// Canonical outcomes carried by a normalized gateway event.
const (
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
	EventPending   = "pending"
	EventIgnored   = "ignored"
)

// Event is a gateway signal normalized to the canonical vocabulary.
// Transient: folded into an Intent immediately, never persisted itself.
type Event struct {
	Gateway       string
	EventID       string
	PaymentID     string
	InvoiceID     string
	OrderID       string
	Status        string
	Amount        float64
	Currency      string
	TransactionID string
	Timestamp     time.Time
}

// intentStatus maps a canonical event outcome to the intent status it drives.
func intentStatus(eventStatus string) (string, bool) {
	switch eventStatus {
	case EventSucceeded:
		return StatusSucceeded, true
	case EventFailed:
		return StatusFailed, true
	case EventCancelled:
		return StatusCancelled, true
	case EventPending:
		return StatusPendingConfirmation, true
	}
	return "", false
}
