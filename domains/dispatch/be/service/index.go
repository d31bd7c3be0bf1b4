package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// dispatchKeyPrefix namespaces index entries in the shared Redis instance.
const dispatchKeyPrefix = "courier:dispatch:"

// Ref locates the message a carrier external id belongs to.
type Ref struct {
	TenantID  uuid.UUID
	MessageID uuid.UUID
}

// DispatchIndex maps carrier external ids to tenant-scoped messages so webhook
// callbacks can be correlated without scanning every tenant database. Entries
// expire after TTL; past that, correlation falls back to the message store.
type DispatchIndex struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDispatchIndex constructs an index on rdb. ttl <= 0 defaults to 7 days,
// which comfortably covers carrier callback delays.
func NewDispatchIndex(rdb *redis.Client, ttl time.Duration) *DispatchIndex {
	if rdb == nil {
		panic("redis client is required")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &DispatchIndex{rdb: rdb, ttl: ttl}
}

// Put records the external id issued for a message.
func (i *DispatchIndex) Put(ctx context.Context, externalID string, ref Ref) error {
	if externalID == "" {
		return errors.New("external id is empty")
	}
	value := ref.TenantID.String() + "|" + ref.MessageID.String()
	if err := i.rdb.Set(ctx, dispatchKeyPrefix+externalID, value, i.ttl).Err(); err != nil {
		return fmt.Errorf("write dispatch index: %w", err)
	}
	return nil
}

// Lookup resolves an external id. The second return is false when the entry
// is absent or expired.
func (i *DispatchIndex) Lookup(ctx context.Context, externalID string) (Ref, bool, error) {
	value, err := i.rdb.Get(ctx, dispatchKeyPrefix+externalID).Result()
	if errors.Is(err, redis.Nil) {
		return Ref{}, false, nil
	}
	if err != nil {
		return Ref{}, false, fmt.Errorf("read dispatch index: %w", err)
	}

	tenantRaw, messageRaw, ok := strings.Cut(value, "|")
	if !ok {
		return Ref{}, false, fmt.Errorf("malformed dispatch index entry for %q", externalID)
	}
	tenantID, err := uuid.Parse(tenantRaw)
	if err != nil {
		return Ref{}, false, fmt.Errorf("malformed tenant id in dispatch index: %w", err)
	}
	messageID, err := uuid.Parse(messageRaw)
	if err != nil {
		return Ref{}, false, fmt.Errorf("malformed message id in dispatch index: %w", err)
	}
	return Ref{TenantID: tenantID, MessageID: messageID}, true, nil
}
