package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hexacloud/storefront/internal/payment"
	"github.com/stripe/stripe-go/v81"
)

type stubStripeGateway struct {
	event stripe.Event
	err   error
}

func (s *stubStripeGateway) CreateSession(params *payment.StripeSessionParams) (*stripe.CheckoutSession, error) {
	return nil, errors.New("not used")
}

func (s *stubStripeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return s.event, s.err
}

func newWebhookHandlers(stripeGW payment.StripeGateway) (*WebhookHandlers, *payment.InMemoryIntentRepository) {
	repo := payment.NewInMemoryIntentRepository()
	reconciler := payment.NewReconciler(repo, payment.NewInMemoryEventRepository(), stripeGW, nil)
	return NewWebhookHandlers(reconciler), repo
}

func seedIntent(t *testing.T, repo *payment.InMemoryIntentRepository, paymentID, status string) {
	t.Helper()
	err := repo.Insert(context.Background(), &payment.Intent{
		PaymentID: paymentID,
		OrderID:   "7001",
		InvoiceID: "9001",
		Method:    payment.MethodPayPal,
		Amount:    299,
		Currency:  "CZK",
		Status:    status,
	})
	if err != nil {
		t.Fatalf("failed to seed intent: %v", err)
	}
}

func postWebhook(h *WebhookHandlers, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) AckResponse {
	t.Helper()
	var ack AckResponse
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("ack does not decode: %v", err)
	}
	return ack
}

func TestHandleWebhook_BillingCallback(t *testing.T) {
	h, repo := newWebhookHandlers(nil)
	seedIntent(t, repo, "PAY-1", payment.StatusPendingRedirect)

	rec := postWebhook(h, "/webhooks/billing", `{"payment_id":"PAY-1","status":"paid","transaction_id":"txn-1"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ack := decodeAck(t, rec); !ack.Success {
		t.Errorf("expected success ack, got %+v", ack)
	}

	intent, err := repo.GetByPaymentID(context.Background(), "PAY-1")
	if err != nil {
		t.Fatalf("GetByPaymentID failed: %v", err)
	}
	if intent.Status != payment.StatusSucceeded || intent.TransactionID != "txn-1" {
		t.Errorf("unexpected intent: %+v", intent)
	}
}

// TestHandleWebhook_DuplicateDelivery delivers the same succeeded event twice:
// the first transitions the intent, the second is a no-op, both answered 200.
func TestHandleWebhook_DuplicateDelivery(t *testing.T) {
	h, repo := newWebhookHandlers(nil)
	seedIntent(t, repo, "PAY-1", payment.StatusInitialized)

	body := `{"payment_id":"PAY-1","status":"succeeded","transaction_id":"txn-9"}`

	first := postWebhook(h, "/webhooks/billing", body)
	if first.Code != http.StatusOK || !decodeAck(t, first).Success {
		t.Fatalf("first delivery: code %d", first.Code)
	}

	second := postWebhook(h, "/webhooks/billing", body)
	if second.Code != http.StatusOK || !decodeAck(t, second).Success {
		t.Fatalf("second delivery: code %d", second.Code)
	}

	intent, _ := repo.GetByPaymentID(context.Background(), "PAY-1")
	if intent.Status != payment.StatusSucceeded {
		t.Errorf("expected %s, got %s", payment.StatusSucceeded, intent.Status)
	}
}

func TestHandleWebhook_UnknownPaymentStillAcknowledged(t *testing.T) {
	h, _ := newWebhookHandlers(nil)

	rec := postWebhook(h, "/webhooks/billing", `{"payment_id":"PAY-missing","status":"paid"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for unknown payment, got %d", rec.Code)
	}
}

func TestHandleWebhook_UnparseablePayloadAcknowledged(t *testing.T) {
	h, _ := newWebhookHandlers(nil)

	rec := postWebhook(h, "/webhooks/paypal", `not json at all`)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for unparseable payload, got %d", rec.Code)
	}
}

func TestHandleWebhook_StripeBadSignature(t *testing.T) {
	h, _ := newWebhookHandlers(&stubStripeGateway{err: errors.New("bad signature")})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "forged")
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("unverifiable signature must get 400, got %d", rec.Code)
	}
}

func TestHandleWebhook_StripeSucceeded(t *testing.T) {
	object, _ := json.Marshal(map[string]any{
		"id":       "pi_1",
		"amount":   29900,
		"currency": "czk",
		"metadata": map[string]string{"payment_id": "PAY-1"},
	})
	gw := &stubStripeGateway{event: stripe.Event{
		ID:   "evt_1",
		Type: "payment_intent.succeeded",
		Data: &stripe.EventData{Raw: object},
	}}
	h, repo := newWebhookHandlers(gw)
	seedIntent(t, repo, "PAY-1", payment.StatusPendingRedirect)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "valid")
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	intent, _ := repo.GetByPaymentID(context.Background(), "PAY-1")
	if intent.Status != payment.StatusSucceeded || intent.TransactionID != "pi_1" {
		t.Errorf("unexpected intent: %+v", intent)
	}
}

func TestHandleWebhook_ClassifiesWithoutPathSegment(t *testing.T) {
	h, repo := newWebhookHandlers(nil)
	seedIntent(t, repo, "PAY-1", payment.StatusPendingRedirect)

	// PayPal shape posted to the bare endpoint.
	body := `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"cap_1","custom_id":"PAY-1"}}`
	rec := postWebhook(h, "/webhooks", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	intent, _ := repo.GetByPaymentID(context.Background(), "PAY-1")
	if intent.Status != payment.StatusSucceeded {
		t.Errorf("expected %s, got %s", payment.StatusSucceeded, intent.Status)
	}
}

func TestHandleWebhook_UnknownGateway(t *testing.T) {
	h, _ := newWebhookHandlers(nil)
	rec := postWebhook(h, "/webhooks/square", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	h, _ := newWebhookHandlers(nil)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/billing", nil)
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
