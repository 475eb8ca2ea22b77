package health

import (
	"context"

	"github.com/hexacloud/storefront/internal/billing"
)

// BillingChecker implements health checking for the billing backend.
type BillingChecker struct {
	client billing.Client
}

// NewBillingChecker creates a new billing backend health checker.
func NewBillingChecker(client billing.Client) *BillingChecker {
	return &BillingChecker{
		client: client,
	}
}

// HealthCheck issues a lightweight ping call. A RemoteRejection still counts
// as healthy: the endpoint answered and authenticated us, it just has no
// ping operation.
func (b *BillingChecker) HealthCheck(ctx context.Context) error {
	_, err := b.client.Call(ctx, "ping", nil)
	if err != nil && billing.IsRemoteRejection(err) {
		return nil
	}
	return err
}
