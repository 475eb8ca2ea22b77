package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hexacloud/storefront/internal/affiliate"
	"github.com/hexacloud/storefront/internal/middleware"
	"github.com/hexacloud/storefront/internal/order"
	"github.com/hexacloud/storefront/internal/payment"
	"github.com/hexacloud/storefront/internal/tracking"
	"github.com/hexacloud/storefront/internal/validate"
)

// maxCartItems bounds a single checkout request.
const maxCartItems = 50

// CheckoutHandlers holds dependencies for the checkout endpoint.
type CheckoutHandlers struct {
	orchestrator *order.Orchestrator
	tracker      *tracking.Tracker
	metrics      *payment.Metrics
}

// NewCheckoutHandlers creates a new CheckoutHandlers instance.
// tracker and metrics may be nil.
func NewCheckoutHandlers(orchestrator *order.Orchestrator, tracker *tracking.Tracker, metrics *payment.Metrics) *CheckoutHandlers {
	return &CheckoutHandlers{
		orchestrator: orchestrator,
		tracker:      tracker,
		metrics:      metrics,
	}
}

// HandleCheckout turns a validated cart into billing backend records.
// POST /checkout
func (h *CheckoutHandlers) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	var req order.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	if msg := validateCheckout(&req); msg != "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	// Attribution from the signed cookie applies unless the request carries
	// its own.
	if req.Affiliate == nil {
		req.Affiliate = affiliate.FromContext(ctx)
	}

	record := h.orchestrator.Checkout(ctx, req)

	result := "failed"
	if record.OverallSuccess {
		result = "success"
		if len(record.Errors) > 0 {
			result = "partial"
		}
	}
	if h.metrics != nil {
		h.metrics.IncCheckouts(result)
	}

	if record.OverallSuccess && record.Affiliate != nil {
		h.tracker.Conversion(record.Affiliate.AffiliateCode)
	}

	status := http.StatusOK
	if !record.OverallSuccess {
		// The per-line detail still goes to the caller; only the status code
		// and request log reflect the failure. A cart rejected purely on
		// unknown product IDs is the caller's error, not the backend's.
		status = http.StatusBadGateway
		code := ErrCodeUpstreamUnavailable
		if record.ValidationFailure {
			status = http.StatusBadRequest
			code = ErrCodeValidation
		}
		ctx = middleware.SetErrorCode(ctx, code)
		middleware.UpdateResponseContext(w, ctx)
		slog.WarnContext(ctx, "checkout failed", "errors", len(record.Errors))
	}
	writeJSON(w, ctx, status, record)
}

// validateCheckout returns a rejection message, or "" when the request is valid.
func validateCheckout(req *order.CheckoutRequest) string {
	firstName, err := validate.CustomerName(req.Customer.FirstName)
	if err != nil {
		return "invalid customer first name"
	}
	lastName, err := validate.CustomerName(req.Customer.LastName)
	if err != nil {
		return "invalid customer last name"
	}
	req.Customer.FirstName = firstName
	req.Customer.LastName = lastName

	email, err := validate.Email(req.Customer.Email)
	if err != nil {
		return "invalid customer email"
	}
	req.Customer.Email = email

	address, err := validate.AddressLine(req.Customer.Address)
	if err != nil {
		return "invalid customer address"
	}
	city, err := validate.AddressLine(req.Customer.City)
	if err != nil {
		return "invalid customer city"
	}
	postalCode, err := validate.AddressLine(req.Customer.PostalCode)
	if err != nil {
		return "invalid customer postal code"
	}
	req.Customer.Address = address
	req.Customer.City = city
	req.Customer.PostalCode = postalCode

	if len(req.Items) == 0 {
		return "cart is empty"
	}
	if len(req.Items) > maxCartItems {
		return "too many cart items"
	}
	for _, item := range req.Items {
		if item.InternalProductID == "" {
			return "internal_product_id is required for all items"
		}
		if item.Quantity < 1 {
			return "quantity must be at least 1"
		}
		if item.UnitPrice < 0 {
			return "unit_price cannot be negative"
		}
		if !order.ValidCycle(item.BillingCycle) {
			return "invalid billing_cycle"
		}
	}
	return ""
}
