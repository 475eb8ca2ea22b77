package payment

import (
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
)

// StripeSessionParams holds what the direct-card gateway needs to start a
// hosted Stripe Checkout Session for one invoice.
type StripeSessionParams struct {
	PaymentID   string
	InvoiceID   string
	Amount      float64
	Currency    string
	ProductName string
	SuccessURL  string
	CancelURL   string
}

// StripeGateway is an interface for Stripe operations to enable testing with mocks.
type StripeGateway interface {
	CreateSession(params *StripeSessionParams) (*stripe.CheckoutSession, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// StripeClient implements StripeGateway using the real Stripe SDK.
type StripeClient struct {
	webhookSecret string
}

// NewStripeClient creates a Stripe client with the given API key and webhook secret.
func NewStripeClient(apiKey, webhookSecret string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{webhookSecret: webhookSecret}
}

// CreateSession creates a Stripe Checkout Session for a single invoice.
// The payment ID rides in the session metadata so webhook events can be
// joined back to the intent without a second lookup.
func (c *StripeClient) CreateSession(params *StripeSessionParams) (*stripe.CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(params.Currency),
				UnitAmount: stripe.Int64(int64(params.Amount * 100)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(params.ProductName),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				"payment_id": params.PaymentID,
				"invoice_id": params.InvoiceID,
			},
		},
	}
	sessionParams.Metadata = map[string]string{
		"payment_id": params.PaymentID,
		"invoice_id": params.InvoiceID,
	}

	return session.New(sessionParams)
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
func (c *StripeClient) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signature, c.webhookSecret)
}
