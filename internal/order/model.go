// Package order turns validated carts into billing backend client, order
// and invoice records.
package order

// Billing cycle values accepted on a cart line.
const (
	CycleMonthly    = "monthly"
	CycleQuarterly  = "quarterly"
	CycleSemiannual = "semiannual"
	CycleAnnual     = "annual"
)

// ValidCycle reports whether cycle is one of the accepted billing cycles.
func ValidCycle(cycle string) bool {
	switch cycle {
	case CycleMonthly, CycleQuarterly, CycleSemiannual, CycleAnnual:
		return true
	}
	return false
}

// CartItem is one storefront cart line. Immutable once submitted.
type CartItem struct {
	InternalProductID string            `json:"internal_product_id"`
	Quantity          int               `json:"quantity"`
	UnitPrice         float64           `json:"unit_price"`
	BillingCycle      string            `json:"billing_cycle"`
	Currency          string            `json:"currency,omitempty"` // overrides the home currency when set
	ConfigOptions     map[string]string `json:"config_options,omitempty"`
	Addons            []string          `json:"addons,omitempty"`
}

// Customer is the checkout contact. The billing backend owns the record
// after creation; the storefront keeps only the returned identifier.
type Customer struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
	Company    string `json:"company,omitempty"`
}

// Attribution is the referring partner associated with the browsing session.
// Propagated unchanged to every order line; never invented mid-pipeline.
type Attribution struct {
	AffiliateID   string `json:"affiliate_id"`
	AffiliateCode string `json:"affiliate_code,omitempty"`
}

// CheckoutRequest is one checkout attempt.
type CheckoutRequest struct {
	Customer  Customer     `json:"customer"`
	Items     []CartItem   `json:"items"`
	Affiliate *Attribution `json:"affiliate,omitempty"`
	Total     float64      `json:"total"`
}

// Line is the outcome of one cart line.
type Line struct {
	InternalProductID string `json:"internal_product_id"`
	OrderID           string `json:"order_id"`
	InvoiceID         string `json:"invoice_id"`
	ProductName       string `json:"product_name"`
}

// Record aggregates one checkout attempt. Never mutated after return;
// a retry creates a new attempt with fresh backend order IDs.
type Record struct {
	ClientID       string       `json:"client_id"`
	Lines          []Line       `json:"lines"`
	Affiliate      *Attribution `json:"affiliate,omitempty"`
	Errors         []string     `json:"errors"`
	OverallSuccess bool         `json:"overall_success"`

	// ValidationFailure is set when the attempt produced no lines and every
	// line was rejected before reaching the backend (unknown product IDs).
	// It lets the HTTP layer classify the failure as a caller error rather
	// than a backend one.
	ValidationFailure bool `json:"-"`
}
