package payment

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// ValidationError indicates caller-supplied data was rejected before any
// network call. Maps to a 4xx response, never retried automatically.
// Disabled marks the method-not-enabled case so callers can report it
// distinctly from malformed input.
type ValidationError struct {
	Reason   string
	Disabled bool
}

func (e *ValidationError) Error() string { return e.Reason }

// IsValidationError reports whether err is a caller-input rejection.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsMethodDisabled reports whether err is the method-not-enabled rejection.
func IsMethodDisabled(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Disabled
}

// ErrGatewayUnavailable is returned when an upstream gateway call fails
// during initialization.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// BankInstructions are the manual transfer details for a bank_transfer intent.
// The variable symbol is a deterministic function of the order identifier:
// repeated initialization for the same order yields the same symbol.
type BankInstructions struct {
	AccountNumber  string    `json:"account_number"`
	VariableSymbol string    `json:"variable_symbol"`
	ConstantSymbol string    `json:"constant_symbol"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	DueDate        time.Time `json:"due_date"`
}

// bankTransferDueDays is how long a manual transfer has before the invoice
// is considered overdue.
const bankTransferDueDays = 7

// bankConstantSymbol marks cashless service payments on bank statements.
const bankConstantSymbol = "0308"

// InitializeRequest asks for a payment intent for one invoice.
type InitializeRequest struct {
	OrderID   string
	InvoiceID string
	Method    string
	Amount    float64
	Currency  string
}

// InitializeResult is the outcome of a successful initialization.
type InitializeResult struct {
	PaymentID        string
	Status           string
	RedirectRequired bool
	PaymentURL       string
	Instructions     *BankInstructions
}

// InitializerConfig carries the deployment settings for the initializer.
type InitializerConfig struct {
	// EnabledMethods mirrors the billing backend's active payment modules.
	EnabledMethods []string
	// CheckoutBaseURL is the billing backend's hosted checkout base.
	CheckoutBaseURL string
	ReturnURL       string
	CancelURL       string
	// HomeCurrency is used when the request does not specify one.
	HomeCurrency string
	// BankAccountNumber receives manual transfers.
	BankAccountNumber string
}

// Initializer validates payment requests, creates intents and produces the
// method-specific initialization result.
type Initializer struct {
	cfg     InitializerConfig
	enabled map[string]bool
	intents IntentRepository
	stripe  StripeGateway // nil when direct card processing is not configured
	metrics *Metrics
}

// NewInitializer creates an Initializer. stripe may be nil; card requests
// then redirect to the billing backend's hosted checkout like the other
// redirect methods.
func NewInitializer(cfg InitializerConfig, intents IntentRepository, stripe StripeGateway, metrics *Metrics) *Initializer {
	enabled := make(map[string]bool, len(cfg.EnabledMethods))
	for _, m := range cfg.EnabledMethods {
		enabled[m] = true
	}
	return &Initializer{
		cfg:     cfg,
		enabled: enabled,
		intents: intents,
		stripe:  stripe,
		metrics: metrics,
	}
}

// Enabled reports whether a payment method is currently enabled.
func (i *Initializer) Enabled(method string) bool {
	return i.enabled[method]
}

// Initialize validates the request, records a new intent and builds the
// gateway-specific result. Validation failures never reach the network.
func (i *Initializer) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if err := i.validate(req); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = i.cfg.HomeCurrency
	}

	intent := &Intent{
		PaymentID: "PAY-" + uuid.New().String(),
		OrderID:   req.OrderID,
		InvoiceID: req.InvoiceID,
		Method:    req.Method,
		Amount:    req.Amount,
		Currency:  currency,
		Status:    StatusInitialized,
		Metadata:  map[string]string{},
	}
	if err := i.intents.Insert(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to store payment intent: %w", err)
	}

	var result *InitializeResult
	var err error
	switch req.Method {
	case MethodBankTransfer:
		result = i.initializeBankTransfer(intent)
	case MethodCard:
		if i.stripe != nil {
			result, err = i.initializeStripeCard(ctx, intent)
			break
		}
		result = i.initializeHostedRedirect(intent)
	default:
		// paypal, crypto and the generic gateway all redirect to the billing
		// backend's hosted checkout for the invoice.
		result = i.initializeHostedRedirect(intent)
	}
	if err != nil {
		return nil, err
	}

	if uerr := i.intents.UpdateStatus(ctx, intent.PaymentID, StatusInitialized, result.Status, ""); uerr != nil {
		return nil, fmt.Errorf("failed to advance payment intent: %w", uerr)
	}

	if i.metrics != nil {
		i.metrics.IncInitializations(req.Method)
	}
	slog.InfoContext(ctx, "payment initialized",
		"payment_id", intent.PaymentID,
		"invoice_id", intent.InvoiceID,
		"method", req.Method,
		"status", result.Status)

	result.PaymentID = intent.PaymentID
	return result, nil
}

func (i *Initializer) validate(req InitializeRequest) error {
	if req.OrderID == "" {
		return &ValidationError{Reason: "order_id is required"}
	}
	if req.InvoiceID == "" {
		return &ValidationError{Reason: "invoice_id is required"}
	}
	if req.Amount <= 0 {
		return &ValidationError{Reason: "amount must be positive"}
	}
	if !KnownMethod(req.Method) {
		return &ValidationError{Reason: fmt.Sprintf("unknown payment method %q", req.Method)}
	}
	if !i.enabled[req.Method] {
		return &ValidationError{Reason: fmt.Sprintf("payment method %q is not enabled", req.Method), Disabled: true}
	}
	return nil
}

// initializeHostedRedirect builds the deterministic hosted-checkout URL for
// the invoice and method.
func (i *Initializer) initializeHostedRedirect(intent *Intent) *InitializeResult {
	q := url.Values{}
	q.Set("method", intent.Method)
	q.Set("return_url", i.cfg.ReturnURL)
	q.Set("cancel_url", i.cfg.CancelURL)

	return &InitializeResult{
		Status:           StatusPendingRedirect,
		RedirectRequired: true,
		PaymentURL:       fmt.Sprintf("%s/pay/%s?%s", i.cfg.CheckoutBaseURL, url.PathEscape(intent.InvoiceID), q.Encode()),
	}
}

func (i *Initializer) initializeStripeCard(ctx context.Context, intent *Intent) (*InitializeResult, error) {
	sess, err := i.stripe.CreateSession(&StripeSessionParams{
		PaymentID:   intent.PaymentID,
		InvoiceID:   intent.InvoiceID,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		ProductName: "Invoice " + intent.InvoiceID,
		SuccessURL:  i.cfg.ReturnURL,
		CancelURL:   i.cfg.CancelURL,
	})
	if err != nil {
		slog.ErrorContext(ctx, "stripe session creation failed", "payment_id", intent.PaymentID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return &InitializeResult{
		Status:           StatusPendingRedirect,
		RedirectRequired: true,
		PaymentURL:       sess.URL,
	}, nil
}

func (i *Initializer) initializeBankTransfer(intent *Intent) *InitializeResult {
	return &InitializeResult{
		Status:           StatusAwaitingManualInstructions,
		RedirectRequired: false,
		Instructions: &BankInstructions{
			AccountNumber:  i.cfg.BankAccountNumber,
			VariableSymbol: VariableSymbol(intent.OrderID),
			ConstantSymbol: bankConstantSymbol,
			Amount:         intent.Amount,
			Currency:       intent.Currency,
			DueDate:        time.Now().AddDate(0, 0, bankTransferDueDays),
		},
	}
}

// VariableSymbol derives the numeric bank reference for an order. Numeric
// order IDs up to ten digits pass through unchanged; anything else hashes
// to a stable ten-digit value.
func VariableSymbol(orderID string) string {
	if len(orderID) > 0 && len(orderID) <= 10 && isDigits(orderID) {
		return orderID
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return fmt.Sprintf("%010d", h.Sum32())
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
