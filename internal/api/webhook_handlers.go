package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hexacloud/storefront/internal/middleware"
	"github.com/hexacloud/storefront/internal/payment"
)

// maxWebhookBody bounds inbound gateway payloads.
const maxWebhookBody = 1 << 20

// AckResponse is the acknowledgement body gateways receive.
type AckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WebhookHandlers folds inbound gateway notifications into payment intents.
type WebhookHandlers struct {
	reconciler *payment.Reconciler
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(reconciler *payment.Reconciler) *WebhookHandlers {
	return &WebhookHandlers{reconciler: reconciler}
}

// HandleWebhook processes POST /webhooks/{gateway}. Without a gateway path
// segment the gateway is classified from the request shape.
//
// Acknowledgement policy: once the sender is authenticated the response is
// always 200, whatever happens internally; gateways retry or escalate on
// non-200 and the failure belongs to us, not them. The one 400 case is a
// signature that does not verify, since the payload cannot be attributed.
func (h *WebhookHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	gateway := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhooks"), "/")
	if gateway == "" {
		gateway = payment.ClassifyGateway(r.Header, body)
	}
	switch gateway {
	case payment.GatewayStripe, payment.GatewayPayPal, payment.GatewayCrypto, payment.GatewayBilling:
	default:
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "unknown gateway")
		return
	}

	ev, err := h.reconciler.Normalize(gateway, r.Header, body)
	if err != nil {
		if errors.Is(err, payment.ErrUnverifiedSignature) {
			slog.WarnContext(ctx, "webhook signature verification failed", "gateway", gateway, "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid signature")
			return
		}
		// Unparseable payload from an authenticated sender; ours to debug.
		slog.ErrorContext(ctx, "failed to normalize webhook payload", "gateway", gateway, "error", err)
		writeJSON(w, ctx, http.StatusOK, AckResponse{Success: true, Message: "acknowledged"})
		return
	}

	slog.InfoContext(ctx, "webhook event received",
		"gateway", gateway, "event_id", ev.EventID, "status", ev.Status)

	if _, err := h.reconciler.Apply(ctx, ev); err != nil {
		if errors.Is(err, payment.ErrIntentNotFound) {
			slog.WarnContext(ctx, "webhook event for unknown payment",
				"gateway", gateway, "event_id", ev.EventID, "payment_id", ev.PaymentID)
		} else {
			slog.ErrorContext(ctx, "failed to apply webhook event",
				"gateway", gateway, "event_id", ev.EventID, "error", err)
		}
		writeJSON(w, ctx, http.StatusOK, AckResponse{Success: true, Message: "acknowledged"})
		return
	}

	writeJSON(w, ctx, http.StatusOK, AckResponse{Success: true, Message: "processed"})
}
