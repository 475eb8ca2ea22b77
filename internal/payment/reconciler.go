package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrUnverifiedSignature is returned when a gateway's payload signature does
// not verify. The webhook handler answers these with 400 instead of the
// usual acknowledgement, since the payload cannot be attributed.
var ErrUnverifiedSignature = errors.New("gateway signature verification failed")

// casAttempts bounds how often a fold retries after losing a status race.
const casAttempts = 3

// Reconciler folds browser returns, gateway webhooks and manual polls into
// one canonical intent status.
type Reconciler struct {
	intents IntentRepository
	events  EventRepository
	stripe  StripeGateway // nil when direct card processing is not configured
	metrics *Metrics
}

// NewReconciler creates a Reconciler. stripe may be nil; Stripe-signed
// webhooks are then rejected as unverifiable.
func NewReconciler(intents IntentRepository, events EventRepository, stripe StripeGateway, metrics *Metrics) *Reconciler {
	return &Reconciler{
		intents: intents,
		events:  events,
		stripe:  stripe,
		metrics: metrics,
	}
}

// ClassifyGateway identifies the originating gateway from the request shape
// before interpreting the payload: a signature header for Stripe, an
// event-type+resource body for PayPal, the txn_status vendor marker for the
// crypto processor, and the billing backend's callback otherwise.
func ClassifyGateway(header http.Header, body []byte) string {
	if header.Get("Stripe-Signature") != "" {
		return GatewayStripe
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return GatewayBilling
	}
	if _, hasType := probe["event_type"]; hasType {
		if _, hasResource := probe["resource"]; hasResource {
			return GatewayPayPal
		}
	}
	if _, ok := probe["txn_status"]; ok {
		return GatewayCrypto
	}
	return GatewayBilling
}

// Normalize converts a raw gateway payload into a canonical event.
func (r *Reconciler) Normalize(gateway string, header http.Header, body []byte) (*Event, error) {
	switch gateway {
	case GatewayStripe:
		return r.normalizeStripe(header, body)
	case GatewayPayPal:
		return normalizePayPal(body)
	case GatewayCrypto:
		return normalizeCrypto(body)
	case GatewayBilling:
		return normalizeBilling(body)
	}
	return nil, fmt.Errorf("unknown gateway %q", gateway)
}

func (r *Reconciler) normalizeStripe(header http.Header, body []byte) (*Event, error) {
	if r.stripe == nil {
		return nil, ErrUnverifiedSignature
	}
	stripeEvent, err := r.stripe.ConstructEvent(body, header.Get("Stripe-Signature"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnverifiedSignature, err)
	}

	ev := &Event{
		Gateway:   GatewayStripe,
		EventID:   stripeEvent.ID,
		Timestamp: time.Now(),
	}

	var object struct {
		ID       string            `json:"id"`
		Amount   int64             `json:"amount"`
		Currency string            `json:"currency"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(stripeEvent.Data.Raw, &object); err != nil {
		return nil, fmt.Errorf("failed to parse stripe event object: %w", err)
	}
	ev.PaymentID = object.Metadata["payment_id"]
	ev.InvoiceID = object.Metadata["invoice_id"]
	ev.TransactionID = object.ID
	ev.Amount = float64(object.Amount) / 100
	ev.Currency = object.Currency

	switch stripeEvent.Type {
	case "checkout.session.completed":
		ev.Status = EventPending
	case "payment_intent.succeeded":
		ev.Status = EventSucceeded
	case "payment_intent.payment_failed":
		ev.Status = EventFailed
	case "payment_intent.canceled":
		ev.Status = EventCancelled
	default:
		ev.Status = EventIgnored
	}
	return ev, nil
}

func normalizePayPal(body []byte) (*Event, error) {
	var payload struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID        string `json:"id"`
			CustomID  string `json:"custom_id"`
			InvoiceID string `json:"invoice_id"`
			Amount    struct {
				Value        string `json:"value"`
				CurrencyCode string `json:"currency_code"`
			} `json:"amount"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse paypal payload: %w", err)
	}

	ev := &Event{
		Gateway:       GatewayPayPal,
		EventID:       payload.ID,
		PaymentID:     payload.Resource.CustomID,
		InvoiceID:     payload.Resource.InvoiceID,
		TransactionID: payload.Resource.ID,
		Currency:      payload.Resource.Amount.CurrencyCode,
		Timestamp:     time.Now(),
	}
	if v, err := strconv.ParseFloat(payload.Resource.Amount.Value, 64); err == nil {
		ev.Amount = v
	}

	switch payload.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		ev.Status = EventSucceeded
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		ev.Status = EventFailed
	case "CHECKOUT.ORDER.APPROVED":
		ev.Status = EventPending
	default:
		// Refunds, disputes and other subtypes are outside this pipeline.
		ev.Status = EventIgnored
	}
	return ev, nil
}

func normalizeCrypto(body []byte) (*Event, error) {
	var payload struct {
		TxnID     string  `json:"txn_id"`
		TxnStatus string  `json:"txn_status"`
		PaymentID string  `json:"payment_id"`
		InvoiceID string  `json:"invoice_id"`
		Amount    float64 `json:"amount"`
		Currency  string  `json:"currency"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse crypto payload: %w", err)
	}

	ev := &Event{
		Gateway:       GatewayCrypto,
		EventID:       payload.TxnID + ":" + payload.TxnStatus,
		PaymentID:     payload.PaymentID,
		InvoiceID:     payload.InvoiceID,
		TransactionID: payload.TxnID,
		Amount:        payload.Amount,
		Currency:      payload.Currency,
		Timestamp:     time.Now(),
	}

	switch payload.TxnStatus {
	case "confirmed", "complete":
		ev.Status = EventSucceeded
	case "failed", "expired":
		ev.Status = EventFailed
	case "cancelled":
		ev.Status = EventCancelled
	case "pending", "unconfirmed":
		ev.Status = EventPending
	default:
		ev.Status = EventIgnored
	}
	return ev, nil
}

func normalizeBilling(body []byte) (*Event, error) {
	var payload struct {
		PaymentID     string  `json:"payment_id"`
		InvoiceID     string  `json:"invoice_id"`
		OrderID       string  `json:"order_id"`
		Status        string  `json:"status"`
		TransactionID string  `json:"transaction_id"`
		Amount        float64 `json:"amount"`
		Currency      string  `json:"currency"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse billing callback: %w", err)
	}

	ev := &Event{
		Gateway:       GatewayBilling,
		PaymentID:     payload.PaymentID,
		InvoiceID:     payload.InvoiceID,
		OrderID:       payload.OrderID,
		TransactionID: payload.TransactionID,
		Amount:        payload.Amount,
		Currency:      payload.Currency,
		Timestamp:     time.Now(),
	}
	if payload.TransactionID != "" {
		ev.EventID = payload.TransactionID + ":" + payload.Status
	}

	switch payload.Status {
	case "paid", "succeeded":
		ev.Status = EventSucceeded
	case "failed":
		ev.Status = EventFailed
	case "cancelled":
		ev.Status = EventCancelled
	case "pending", "unpaid":
		ev.Status = EventPending
	default:
		ev.Status = EventIgnored
	}
	return ev, nil
}

// NormalizeReturn converts a browser return redirect into a canonical event.
// A successful return only advances the intent to pending confirmation; the
// gateway webhook remains the source of truth for the final outcome.
func NormalizeReturn(query url.Values) *Event {
	ev := &Event{
		Gateway:   GatewayBilling,
		PaymentID: query.Get("payment_id"),
		InvoiceID: query.Get("invoice_id"),
		OrderID:   query.Get("order_id"),
		Timestamp: time.Now(),
	}
	switch query.Get("status") {
	case "cancel", "cancelled":
		ev.Status = EventCancelled
	case "success", "":
		ev.Status = EventPending
	default:
		ev.Status = EventIgnored
	}
	return ev
}

// Apply folds a normalized event into its intent. Duplicate events and
// events for terminal intents are accepted but produce no state change.
// Returns the intent as it stands after the fold.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) (*Intent, error) {
	if r.metrics != nil {
		r.metrics.IncWebhookEvents(ev.Gateway, ev.Status)
	}

	intent, err := r.Lookup(ctx, ev.PaymentID, ev.InvoiceID, ev.OrderID)
	if err != nil {
		return nil, err
	}

	if ev.Status == EventIgnored {
		return intent, nil
	}

	target, ok := intentStatus(ev.Status)
	if !ok {
		return intent, nil
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		if IsTerminal(intent.Status) || !CanTransition(intent.Status, target) {
			// Out-of-order, late or redelivered event; accepted, no state change.
			r.markProcessed(ctx, ev)
			return intent, nil
		}

		err := r.intents.UpdateStatus(ctx, intent.PaymentID, intent.Status, target, ev.TransactionID)
		if err == nil {
			if r.metrics != nil {
				r.metrics.IncTransitions(target)
			}
			slog.InfoContext(ctx, "payment intent transitioned",
				"payment_id", intent.PaymentID, "from", intent.Status, "to", target, "gateway", ev.Gateway)
			r.markProcessed(ctx, ev)
			return r.intents.GetByPaymentID(ctx, intent.PaymentID)
		}
		if !errors.Is(err, ErrStaleStatus) {
			// No dedupe marker on a failed fold: the gateway has already been
			// acked, so the redelivery must be allowed to retry the transition.
			return nil, err
		}

		// Lost the race against another channel; re-read and re-evaluate.
		intent, err = r.intents.GetByPaymentID(ctx, intent.PaymentID)
		if err != nil {
			return nil, err
		}
	}
	return intent, nil
}

// markProcessed records the dedupe tuple once the event's effect is durable.
// The forward-only transition table already makes redeliveries no-ops, so the
// marker exists for observability and cross-instance bookkeeping, never as a
// gate in front of an unapplied transition.
func (r *Reconciler) markProcessed(ctx context.Context, ev *Event) {
	if ev.EventID == "" {
		return
	}
	err := r.events.RecordEvent(ctx, ev.Gateway, ev.EventID)
	switch {
	case err == nil:
	case errors.Is(err, ErrEventAlreadyProcessed):
		slog.InfoContext(ctx, "duplicate gateway event ignored",
			"gateway", ev.Gateway, "event_id", ev.EventID, "payment_id", ev.PaymentID)
	default:
		slog.WarnContext(ctx, "failed to record processed event",
			"gateway", ev.Gateway, "event_id", ev.EventID, "error", err)
	}
}

// Lookup resolves an intent by whichever identifier is present, in order of
// specificity: payment ID, invoice ID, order ID.
func (r *Reconciler) Lookup(ctx context.Context, paymentID, invoiceID, orderID string) (*Intent, error) {
	if paymentID != "" {
		return r.intents.GetByPaymentID(ctx, paymentID)
	}
	if invoiceID != "" {
		return r.intents.GetByInvoiceID(ctx, invoiceID)
	}
	if orderID != "" {
		return r.intents.GetByOrderID(ctx, orderID)
	}
	return nil, ErrIntentNotFound
}
