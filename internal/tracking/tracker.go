// Package tracking counts affiliate visits and conversions in Redis.
// All writes are fire-and-forget: a slow or absent Redis never delays or
// fails the request being served.
package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// writeTimeout bounds each background counter write.
const writeTimeout = 2 * time.Second

const (
	visitKeyPrefix      = "affiliate_visits:"
	conversionKeyPrefix = "affiliate_conversions:"
)

// Tracker increments per-affiliate counters. A nil Tracker is a no-op.
type Tracker struct {
	client *redis.Client
}

// NewTracker creates a Tracker on an existing Redis client.
func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

// Visit records a referred visit for an affiliate code.
func (t *Tracker) Visit(code string) {
	t.incr(visitKeyPrefix+code, code)
}

// Conversion records a completed checkout for an affiliate code.
func (t *Tracker) Conversion(code string) {
	t.incr(conversionKeyPrefix+code, code)
}

func (t *Tracker) incr(key, code string) {
	if t == nil || t.client == nil || code == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := t.client.Incr(ctx, key).Err(); err != nil {
			slog.Debug("tracking write failed", "key", key, "error", err)
		}
	}()
}
