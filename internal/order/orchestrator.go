package order

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/hexacloud/storefront/internal/billing"
	"github.com/hexacloud/storefront/internal/catalog"
)

// Billing backend operations used by the orchestrator.
const (
	callAddClient        = "addClient"
	callGetClientByEmail = "getClientByEmail"
	callAddOrder         = "addOrder"
	callSetAffiliate     = "setAffiliate"
)

// Orchestrator runs the checkout state machine: resolve customer, create one
// backend order per cart line, attach affiliate referral, aggregate.
type Orchestrator struct {
	client            billing.Client
	mapper            *catalog.Mapper
	currency          string
	affiliateRequired bool
}

// NewOrchestrator creates an Orchestrator. currency is the deployment's home
// currency, used when a cart line does not override it. affiliateRequired
// escalates referral-attachment failures from warnings to per-line errors.
func NewOrchestrator(client billing.Client, mapper *catalog.Mapper, currency string, affiliateRequired bool) *Orchestrator {
	return &Orchestrator{
		client:            client,
		mapper:            mapper,
		currency:          currency,
		affiliateRequired: affiliateRequired,
	}
}

// Checkout executes one checkout attempt. Customer resolution failure is
// fatal; per-line failures are recorded and remaining lines still run.
// OverallSuccess is true iff the customer resolved and at least one line
// produced a backend order.
func (o *Orchestrator) Checkout(ctx context.Context, req CheckoutRequest) *Record {
	rec := &Record{
		Affiliate: req.Affiliate,
		Errors:    []string{},
	}

	clientID, err := o.resolveCustomer(ctx, req.Customer)
	if err != nil {
		slog.ErrorContext(ctx, "customer resolution failed", "email", maskEmail(req.Customer.Email), "error", err)
		rec.Errors = append(rec.Errors, fmt.Sprintf("customer resolution failed: %v", err))
		return rec
	}
	rec.ClientID = clientID

	// Cart lines are independent backend records, so they run concurrently.
	// Affiliate attachment stays strictly after its own line's creation.
	results := make([]lineResult, len(req.Items))

	var wg sync.WaitGroup
	for i, item := range req.Items {
		wg.Add(1)
		go func(i int, item CartItem) {
			defer wg.Done()
			results[i] = o.createLine(ctx, clientID, item, req.Affiliate)
		}(i, item)
	}
	wg.Wait()

	unmapped := 0
	for _, res := range results {
		rec.Errors = append(rec.Errors, res.errs...)
		if res.ok {
			rec.Lines = append(rec.Lines, res.line)
		} else if res.unmapped {
			unmapped++
		}
	}

	rec.OverallSuccess = len(rec.Lines) > 0
	rec.ValidationFailure = !rec.OverallSuccess && len(req.Items) > 0 && unmapped == len(req.Items)
	return rec
}

// lineResult is the outcome of one cart line attempt. unmapped marks lines
// rejected on catalog translation, before any backend call.
type lineResult struct {
	line     Line
	errs     []string
	ok       bool
	unmapped bool
}

// resolveCustomer creates the customer on the billing backend, falling back
// to lookup-by-email when the backend reports the customer already exists.
func (o *Orchestrator) resolveCustomer(ctx context.Context, c Customer) (string, error) {
	params := map[string]string{
		"firstname": c.FirstName,
		"lastname":  c.LastName,
		"email":     c.Email,
		"phone":     c.Phone,
		"address":   c.Address,
		"city":      c.City,
		"postcode":  c.PostalCode,
		"country":   c.Country,
	}
	if c.Company != "" {
		params["company"] = c.Company
	}

	resp, err := o.client.Call(ctx, callAddClient, params)
	if err == nil {
		if id := resp.String("client_id"); id != "" {
			return id, nil
		}
		return "", fmt.Errorf("backend returned no client_id")
	}

	if !billing.IsAlreadyExists(err) {
		return "", err
	}

	resp, err = o.client.Call(ctx, callGetClientByEmail, map[string]string{"email": c.Email})
	if err != nil {
		return "", fmt.Errorf("lookup after duplicate: %w", err)
	}
	if id := resp.String("client_id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("lookup after duplicate returned no client_id")
}

// createLine creates one backend order and, when attribution is present,
// attaches the affiliate referral once the order ID is known.
func (o *Orchestrator) createLine(ctx context.Context, clientID string, item CartItem, aff *Attribution) lineResult {
	var errs []string

	backendProductID, err := o.mapper.Product(item.InternalProductID)
	if err != nil {
		return lineResult{errs: []string{fmt.Sprintf("product %q: %v", item.InternalProductID, err)}, unmapped: true}
	}

	currency := item.Currency
	if currency == "" {
		currency = o.currency
	}

	params := map[string]string{
		"client_id":  clientID,
		"product_id": backendProductID,
		"cycle":      item.BillingCycle,
		"qty":        strconv.Itoa(item.Quantity),
		"price":      strconv.FormatFloat(item.UnitPrice, 'f', 2, 64),
		"currency":   currency,
	}
	for key, value := range item.ConfigOptions {
		params["config["+key+"]"] = value
	}
	if addonIDs := o.mapAddons(item.Addons); len(addonIDs) > 0 {
		params["addons"] = strings.Join(addonIDs, ",")
	}

	resp, err := o.client.Call(ctx, callAddOrder, params)
	if err != nil {
		return lineResult{errs: []string{fmt.Sprintf("product %q: order creation failed: %v", item.InternalProductID, err)}}
	}

	line := Line{
		InternalProductID: item.InternalProductID,
		OrderID:           resp.String("order_id"),
		InvoiceID:         resp.String("invoice_id"),
		ProductName:       resp.String("product_name"),
	}
	if line.OrderID == "" {
		return lineResult{errs: []string{fmt.Sprintf("product %q: backend returned no order_id", item.InternalProductID)}}
	}

	if aff != nil {
		if err := o.attachAffiliate(ctx, line.OrderID, aff); err != nil {
			msg := fmt.Sprintf("order %s: affiliate attachment failed: %v", line.OrderID, err)
			if o.affiliateRequired {
				return lineResult{errs: []string{msg}}
			}
			// Non-fatal: the order stands, the warning is surfaced.
			errs = append(errs, msg)
		}
	}

	return lineResult{line: line, errs: errs, ok: true}
}

func (o *Orchestrator) attachAffiliate(ctx context.Context, orderID string, aff *Attribution) error {
	params := map[string]string{
		"order_id":     orderID,
		"affiliate_id": aff.AffiliateID,
	}
	if aff.AffiliateCode != "" {
		params["affiliate_code"] = aff.AffiliateCode
	}
	_, err := o.client.Call(ctx, callSetAffiliate, params)
	return err
}

func (o *Orchestrator) mapAddons(names []string) []string {
	var ids []string
	for _, name := range names {
		if id := o.mapper.Addon(name); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// maskEmail hides the local part of an email address for logging.
func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
