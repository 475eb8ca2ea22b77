package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestTracker_NilSafe tests that an unconfigured tracker is a no-op.
func TestTracker_NilSafe(t *testing.T) {
	var tracker *Tracker
	tracker.Visit("aff-1")
	tracker.Conversion("aff-1")

	NewTracker(nil).Visit("aff-1")
	NewTracker(nil).Conversion("aff-1")
}

// TestTracker_Counters tests the Redis counters.
// This test requires a Redis instance running on localhost:6379.
func TestTracker_Counters(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer client.Close()

	code := "aff_test_" + time.Now().Format("20060102150405.000000000")
	tracker := NewTracker(client)

	tracker.Visit(code)
	tracker.Visit(code)
	tracker.Conversion(code)

	// Writes are asynchronous; poll briefly for the counters to land.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		visits, _ := client.Get(context.Background(), visitKeyPrefix+code).Int()
		conversions, _ := client.Get(context.Background(), conversionKeyPrefix+code).Int()
		if visits == 2 && conversions == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("counters did not reach expected values")
}
