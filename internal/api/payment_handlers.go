package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hexacloud/storefront/internal/middleware"
	"github.com/hexacloud/storefront/internal/payment"
)

// PaymentHandlers holds dependencies for payment-related HTTP handlers.
type PaymentHandlers struct {
	initializer *payment.Initializer
	reconciler  *payment.Reconciler
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
func NewPaymentHandlers(initializer *payment.Initializer, reconciler *payment.Reconciler) *PaymentHandlers {
	return &PaymentHandlers{
		initializer: initializer,
		reconciler:  reconciler,
	}
}

// InitializePaymentRequest is the request body for starting a payment.
type InitializePaymentRequest struct {
	OrderID   string  `json:"order_id"`
	InvoiceID string  `json:"invoice_id"`
	Method    string  `json:"method"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency,omitempty"`
}

// InitializePaymentResponse is the response for a successful initialization.
type InitializePaymentResponse struct {
	PaymentID        string                    `json:"payment_id"`
	Status           string                    `json:"status"`
	RedirectRequired bool                      `json:"redirect_required"`
	PaymentURL       string                    `json:"payment_url,omitempty"`
	Instructions     *payment.BankInstructions `json:"instructions,omitempty"`
}

// HandleInitialize starts a payment attempt for an invoice.
// POST /payments/initialize
func (h *PaymentHandlers) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	var req InitializePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	result, err := h.initializer.Initialize(ctx, payment.InitializeRequest{
		OrderID:   req.OrderID,
		InvoiceID: req.InvoiceID,
		Method:    req.Method,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		switch {
		case payment.IsMethodDisabled(err):
			ctx = middleware.SetErrorCode(ctx, ErrCodeMethodDisabled)
			WriteError(w, ctx, http.StatusUnprocessableEntity, ErrCodeMethodDisabled, err.Error())
		case payment.IsValidationError(err):
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, payment.ErrGatewayUnavailable):
			slog.ErrorContext(ctx, "payment gateway unavailable", "method", req.Method, "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeUpstreamUnavailable)
			WriteError(w, ctx, http.StatusBadGateway, ErrCodeUpstreamUnavailable, "payment gateway unavailable")
		default:
			slog.ErrorContext(ctx, "payment initialization failed", "invoice_id", req.InvoiceID, "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to initialize payment")
		}
		return
	}

	writeJSON(w, ctx, http.StatusOK, InitializePaymentResponse{
		PaymentID:        result.PaymentID,
		Status:           result.Status,
		RedirectRequired: result.RedirectRequired,
		PaymentURL:       result.PaymentURL,
		Instructions:     result.Instructions,
	})
}

// HandleStatus reports the current intent for a payment, invoice or order.
// GET /payments/status?payment_id=|invoice_id=|order_id=
func (h *PaymentHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	q := r.URL.Query()
	paymentID, invoiceID, orderID := q.Get("payment_id"), q.Get("invoice_id"), q.Get("order_id")
	if paymentID == "" && invoiceID == "" && orderID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "payment_id, invoice_id or order_id is required")
		return
	}

	intent, err := h.reconciler.Lookup(ctx, paymentID, invoiceID, orderID)
	if err != nil {
		if errors.Is(err, payment.ErrIntentNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "payment not found")
			return
		}
		slog.ErrorContext(ctx, "payment status lookup failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to look up payment")
		return
	}

	writeJSON(w, ctx, http.StatusOK, intent)
}

// HandleReturn folds a browser return redirect into the intent. The redirect
// only ever advances an intent to pending confirmation; the gateway webhook
// remains authoritative for the final outcome.
// GET /payments/return?payment_id=...&status=success|cancel
func (h *PaymentHandlers) HandleReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	ev := payment.NormalizeReturn(r.URL.Query())
	if ev.PaymentID == "" && ev.InvoiceID == "" && ev.OrderID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "payment_id, invoice_id or order_id is required")
		return
	}

	intent, err := h.reconciler.Apply(ctx, ev)
	if err != nil {
		if errors.Is(err, payment.ErrIntentNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "payment not found")
			return
		}
		slog.ErrorContext(ctx, "return reconciliation failed", "payment_id", ev.PaymentID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process return")
		return
	}

	writeJSON(w, ctx, http.StatusOK, intent)
}
