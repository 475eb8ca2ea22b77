package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hexacloud/storefront/internal/affiliate"
	"github.com/hexacloud/storefront/internal/billing"
	"github.com/hexacloud/storefront/internal/catalog"
	"github.com/hexacloud/storefront/internal/order"
)

// fakeBilling is a scriptable billing client for handler tests.
type fakeBilling struct {
	mu        sync.Mutex
	calls     map[string]int
	failCalls map[string]error
	orderSeq  int
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{calls: make(map[string]int), failCalls: make(map[string]error)}
}

func (f *fakeBilling) Call(ctx context.Context, call string, params map[string]string) (*billing.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[call]++
	if err, ok := f.failCalls[call]; ok {
		return nil, err
	}
	switch call {
	case "addClient", "getClientByEmail":
		return &billing.Response{Success: true, Data: map[string]json.RawMessage{
			"client_id": json.RawMessage(`"55"`),
		}}, nil
	case "addOrder":
		f.orderSeq++
		return &billing.Response{Success: true, Data: map[string]json.RawMessage{
			"order_id":     json.RawMessage(fmt.Sprintf(`"70%02d"`, f.orderSeq)),
			"invoice_id":   json.RawMessage(fmt.Sprintf(`"90%02d"`, f.orderSeq)),
			"product_name": json.RawMessage(`"VPS Basic"`),
		}}, nil
	default:
		return &billing.Response{Success: true, Data: map[string]json.RawMessage{}}, nil
	}
}

func (f *fakeBilling) countCalls(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[call]
}

func newCheckoutHandler(client billing.Client) *CheckoutHandlers {
	mapper := catalog.NewMapper(catalog.DefaultMapping())
	orch := order.NewOrchestrator(client, mapper, "CZK", false)
	return NewCheckoutHandlers(orch, nil, nil)
}

func validCheckoutBody() string {
	return `{
		"customer": {
			"first_name": "Jan", "last_name": "Novak", "email": "jan@example.com",
			"address": "X", "city": "Praha", "postal_code": "11000"
		},
		"items": [{"internal_product_id": "1", "quantity": 1, "unit_price": 299, "billing_cycle": "monthly"}],
		"total": 299
	}`
}

func TestHandleCheckout_Success(t *testing.T) {
	h := newCheckoutHandler(newFakeBilling())

	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(validCheckoutBody()))
	rec := httptest.NewRecorder()
	h.HandleCheckout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var record order.Record
	if err := json.NewDecoder(rec.Body).Decode(&record); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if !record.OverallSuccess {
		t.Errorf("expected overall success, errors: %v", record.Errors)
	}
	if record.ClientID != "55" || len(record.Lines) != 1 {
		t.Errorf("unexpected record: %+v", record)
	}
	if len(record.Errors) != 0 {
		t.Errorf("expected no errors, got %v", record.Errors)
	}
}

func TestHandleCheckout_UnmappedProduct(t *testing.T) {
	client := newFakeBilling()
	h := newCheckoutHandler(client)

	body := strings.Replace(validCheckoutBody(), `"internal_product_id": "1"`, `"internal_product_id": "999"`, 1)
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleCheckout(rec, req)

	// All failures are unknown product IDs, which is the caller's mistake.
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var record order.Record
	if err := json.NewDecoder(rec.Body).Decode(&record); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if record.OverallSuccess || len(record.Lines) != 0 || len(record.Errors) != 1 {
		t.Errorf("unexpected record: %+v", record)
	}
	// Customer resolution is independent of the mapping failure.
	if client.countCalls("addClient") != 1 {
		t.Error("expected customer resolution to be attempted")
	}
	if client.countCalls("addOrder") != 0 {
		t.Error("unmapped product must not reach the backend")
	}
}

func TestHandleCheckout_BackendFailure(t *testing.T) {
	client := newFakeBilling()
	client.failCalls["addOrder"] = &billing.TransientError{Call: "addOrder", Err: context.DeadlineExceeded}
	h := newCheckoutHandler(client)

	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(validCheckoutBody()))
	rec := httptest.NewRecorder()
	h.HandleCheckout(rec, req)

	// The cart itself was fine; the backend refused the order.
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestHandleCheckout_Validation(t *testing.T) {
	h := newCheckoutHandler(newFakeBilling())

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty cart", `{"customer":{"first_name":"J","last_name":"N","email":"j@e.com","address":"X","city":"P","postal_code":"1"},"items":[]}`},
		{"bad email", strings.Replace(validCheckoutBody(), "jan@example.com", "not-an-email", 1)},
		{"missing name", strings.Replace(validCheckoutBody(), `"first_name": "Jan", `, "", 1)},
		{"oversized name", strings.Replace(validCheckoutBody(), `"first_name": "Jan"`, `"first_name": "`+strings.Repeat("a", 101)+`"`, 1)},
		{"oversized address", strings.Replace(validCheckoutBody(), `"address": "X"`, `"address": "`+strings.Repeat("a", 201)+`"`, 1)},
		{"zero quantity", strings.Replace(validCheckoutBody(), `"quantity": 1`, `"quantity": 0`, 1)},
		{"bad cycle", strings.Replace(validCheckoutBody(), "monthly", "fortnightly", 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.HandleCheckout(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandleCheckout_MethodNotAllowed(t *testing.T) {
	h := newCheckoutHandler(newFakeBilling())
	rec := httptest.NewRecorder()
	h.HandleCheckout(rec, httptest.NewRequest(http.MethodGet, "/checkout", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandleCheckout_CookieAttribution(t *testing.T) {
	client := newFakeBilling()
	h := newCheckoutHandler(client)

	codec := affiliate.NewCodec("test-secret")
	token, err := codec.Encode(order.Attribution{AffiliateID: "aff-42"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	handler := affiliate.Middleware(codec, nil)(http.HandlerFunc(h.HandleCheckout))
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(validCheckoutBody()))
	req.AddCookie(&http.Cookie{Name: affiliate.CookieName, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if client.countCalls("setAffiliate") != 1 {
		t.Errorf("expected one affiliate attachment, got %d", client.countCalls("setAffiliate"))
	}

	var record order.Record
	if err := json.NewDecoder(rec.Body).Decode(&record); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if record.Affiliate == nil || record.Affiliate.AffiliateID != "aff-42" {
		t.Errorf("expected attribution in record, got %+v", record.Affiliate)
	}
}

func TestHandleCheckout_ExplicitAffiliateWins(t *testing.T) {
	client := newFakeBilling()
	h := newCheckoutHandler(client)

	var payload order.CheckoutRequest
	if err := json.Unmarshal([]byte(validCheckoutBody()), &payload); err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	payload.Affiliate = &order.Attribution{AffiliateID: "aff-body"}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleCheckout(rec, req)

	var record order.Record
	if err := json.NewDecoder(rec.Body).Decode(&record); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if record.Affiliate == nil || record.Affiliate.AffiliateID != "aff-body" {
		t.Errorf("request attribution must win, got %+v", record.Affiliate)
	}
}
