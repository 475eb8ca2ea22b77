package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrEventAlreadyProcessed is returned when a (gateway, event) tuple has
// already been folded into an intent. Duplicate deliveries are acknowledged
// but must not double-transition state.
var ErrEventAlreadyProcessed = errors.New("gateway event already processed")

// processedEventTTL bounds how long processed-event markers are retained.
// Gateways stop retrying well within this window.
const processedEventTTL = 72 * time.Hour

// ProcessedEvent records one folded gateway event for idempotency tracking.
type ProcessedEvent struct {
	ID          string
	Gateway     string
	EventID     string
	ProcessedAt time.Time
}

// EventRepository defines dedupe tracking for inbound gateway events.
type EventRepository interface {
	// RecordEvent marks a gateway event as processed.
	// Returns ErrEventAlreadyProcessed when the tuple was already recorded.
	RecordEvent(ctx context.Context, gateway, eventID string) error
}

// InMemoryEventRepository implements EventRepository with in-memory storage.
type InMemoryEventRepository struct {
	mu     sync.Mutex
	events map[string]*ProcessedEvent
}

// NewInMemoryEventRepository creates a new in-memory event repository.
func NewInMemoryEventRepository() *InMemoryEventRepository {
	return &InMemoryEventRepository{
		events: make(map[string]*ProcessedEvent),
	}
}

// RecordEvent marks a gateway event as processed.
func (r *InMemoryEventRepository) RecordEvent(ctx context.Context, gateway, eventID string) error {
	key := gateway + ":" + eventID

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[key]; exists {
		return ErrEventAlreadyProcessed
	}

	r.events[key] = &ProcessedEvent{
		ID:          uuid.New().String(),
		Gateway:     gateway,
		EventID:     eventID,
		ProcessedAt: time.Now(),
	}
	return nil
}

// RedisEventRepository implements EventRepository on Redis so dedupe survives
// restarts and is shared across instances.
type RedisEventRepository struct {
	client *redis.Client
}

// NewRedisEventRepository creates a Redis-backed event repository.
func NewRedisEventRepository(client *redis.Client) *RedisEventRepository {
	return &RedisEventRepository{client: client}
}

// RecordEvent marks a gateway event as processed using SET NX with a TTL.
func (r *RedisEventRepository) RecordEvent(ctx context.Context, gateway, eventID string) error {
	key := "webhook_event:" + gateway + ":" + eventID
	ok, err := r.client.SetNX(ctx, key, time.Now().Format(time.RFC3339), processedEventTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrEventAlreadyProcessed
	}
	return nil
}
