package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Analytics event names recorded per tenant.
const (
	EventMessageSent      = "message_sent"
	EventMessageFailed    = "message_failed"
	EventMessageDelivered = "message_delivered"
)

const analyticsKeyPrefix = "courier:analytics:"

// AnalyticsRecorder keeps per-tenant dispatch counters in Redis. Counters are
// a hash per tenant keyed by event name.
type AnalyticsRecorder struct {
	rdb *redis.Client
}

// NewAnalyticsRecorder constructs a recorder on rdb.
func NewAnalyticsRecorder(rdb *redis.Client) *AnalyticsRecorder {
	if rdb == nil {
		panic("redis client is required")
	}
	return &AnalyticsRecorder{rdb: rdb}
}

// Record increments the tenant's counter for event.
func (r *AnalyticsRecorder) Record(ctx context.Context, tenantID uuid.UUID, event string) error {
	if err := r.rdb.HIncrBy(ctx, analyticsKeyPrefix+tenantID.String(), event, 1).Err(); err != nil {
		return fmt.Errorf("record analytics event %q: %w", event, err)
	}
	return nil
}

// Counters returns all recorded counters for a tenant.
func (r *AnalyticsRecorder) Counters(ctx context.Context, tenantID uuid.UUID) (map[string]int64, error) {
	raw, err := r.rdb.HGetAll(ctx, analyticsKeyPrefix+tenantID.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("read analytics counters: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for event, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed analytics counter %q: %w", event, err)
		}
		out[event] = n
	}
	return out, nil
}
