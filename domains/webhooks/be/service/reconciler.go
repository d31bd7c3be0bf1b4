package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	conversations "github.com/relaycore/courier/domains/conversations/be/service"
	dispatch "github.com/relaycore/courier/domains/dispatch/be/service"
)

// ErrInvalidCallback reports a callback missing its required fields.
var ErrInvalidCallback = errors.New("invalid carrier callback")

// seenKeyPrefix namespaces replay-detection markers in Redis.
const seenKeyPrefix = "courier:webhook:seen:"

// Callback is a carrier delivery status notification.
type Callback struct {
	ExternalID string
	Status     string
	ErrorCode  string
}

// Outcome reports what a callback did to the message.
type Outcome struct {
	// Applied is true when the delivery state advanced. Replays, stale
	// echoes and unknown external ids all reconcile to Applied=false.
	Applied   bool
	MessageID uuid.UUID
}

// MessageStore is the slice of the conversations service the reconciler needs.
type MessageStore interface {
	TransitionDeliveryState(ctx context.Context, tenantID, messageID uuid.UUID, to conversations.DeliveryState) (bool, error)
	FindMessageByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (conversations.Message, error)
}

// ExternalIDIndex resolves carrier external ids to messages.
type ExternalIDIndex interface {
	Lookup(ctx context.Context, externalID string) (dispatch.Ref, bool, error)
}

// AnalyticsSink records per-tenant dispatch events.
type AnalyticsSink interface {
	Record(ctx context.Context, tenantID uuid.UUID, event string) error
}

// Reconciler applies carrier status callbacks to message delivery state.
// Callbacks arrive at-least-once and out of order; the monotonic state
// machine absorbs stale echoes and a Redis marker short-circuits exact
// replays. The marker is written only after the transition lands, so a
// transient store failure leaves the carrier's retry path open.
// Callbacks for unknown external ids are logged and swallowed so the
// carrier stops retrying them.
type Reconciler struct {
	store     MessageStore
	index     ExternalIDIndex
	analytics AnalyticsSink
	rdb       *redis.Client
	logger    *zap.Logger
	seenTTL   time.Duration
}

// NewReconciler constructs a Reconciler. A nil analytics sink records
// nothing. seenTTL bounds replay detection; <= 0 defaults to 24 hours.
func NewReconciler(store MessageStore, index ExternalIDIndex, analytics AnalyticsSink, rdb *redis.Client, logger *zap.Logger, seenTTL time.Duration) *Reconciler {
	if store == nil {
		panic("message store is required")
	}
	if index == nil {
		panic("external id index is required")
	}
	if rdb == nil {
		panic("redis client is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if seenTTL <= 0 {
		seenTTL = 24 * time.Hour
	}
	return &Reconciler{
		store:     store,
		index:     index,
		analytics: analytics,
		rdb:       rdb,
		logger:    logger.With(zap.String("component", "webhook-reconciler")),
		seenTTL:   seenTTL,
	}
}

// stateFor maps carrier statuses onto the delivery state machine. Interim
// statuses the carrier emits before a terminal one map to sent; anything
// unrecognized is dropped.
func stateFor(status string) (conversations.DeliveryState, bool) {
	switch status {
	case "queued", "accepted", "sending", "sent":
		return conversations.StateSent, true
	case "delivered":
		return conversations.StateDelivered, true
	case "undelivered":
		return conversations.StateUndelivered, true
	case "failed":
		return conversations.StateFailed, true
	default:
		return "", false
	}
}

// Process applies one callback for the given tenant.
func (r *Reconciler) Process(ctx context.Context, tenantID uuid.UUID, cb Callback) (Outcome, error) {
	if cb.ExternalID == "" {
		return Outcome{}, fmt.Errorf("%w: external id is required", ErrInvalidCallback)
	}
	if cb.Status == "" {
		return Outcome{}, fmt.Errorf("%w: status is required", ErrInvalidCallback)
	}

	log := r.logger.With(
		zap.String("tenant_id", tenantID.String()),
		zap.String("external_id", cb.ExternalID),
		zap.String("status", cb.Status))

	state, known := stateFor(cb.Status)
	if !known {
		log.Warn("ignoring callback with unknown status")
		return Outcome{}, nil
	}

	seen, err := r.alreadySeen(ctx, cb)
	if err != nil {
		return Outcome{}, err
	}
	if seen {
		log.Debug("ignoring replayed callback")
		return Outcome{}, nil
	}

	messageID, found, err := r.resolve(ctx, tenantID, cb.ExternalID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		// Swallowed on purpose: erroring here would make the carrier retry
		// a callback we will never be able to attribute.
		log.Warn("callback for unknown external id")
		return Outcome{}, nil
	}

	applied, err := r.store.TransitionDeliveryState(ctx, tenantID, messageID, state)
	if err != nil {
		// No marker written yet, so the carrier's retry of this callback
		// still gets through.
		return Outcome{}, fmt.Errorf("apply callback state: %w", err)
	}

	// Marker failures only cost a redundant store round trip on replay; the
	// state machine makes that replay a no-op either way.
	if err := r.markSeen(ctx, cb); err != nil {
		log.Warn("record replay marker", zap.Error(err))
	}

	if !applied {
		log.Debug("callback did not advance delivery state")
	}
	if cb.ErrorCode != "" {
		log.Info("carrier reported delivery error", zap.String("error_code", cb.ErrorCode))
	}
	if applied && state == conversations.StateDelivered && r.analytics != nil {
		if err := r.analytics.Record(ctx, tenantID, dispatch.EventMessageDelivered); err != nil {
			log.Warn("record delivery analytics", zap.Error(err))
		}
	}
	return Outcome{Applied: applied, MessageID: messageID}, nil
}

func seenKey(cb Callback) string {
	return seenKeyPrefix + cb.ExternalID + ":" + cb.Status
}

// alreadySeen reports whether this (external id, status) pair was fully
// processed before.
func (r *Reconciler) alreadySeen(ctx context.Context, cb Callback) (bool, error) {
	n, err := r.rdb.Exists(ctx, seenKey(cb)).Result()
	if err != nil {
		return false, fmt.Errorf("check replay marker: %w", err)
	}
	return n > 0, nil
}

// markSeen records the (external id, status) pair once its transition landed.
func (r *Reconciler) markSeen(ctx context.Context, cb Callback) error {
	if err := r.rdb.Set(ctx, seenKey(cb), "1", r.seenTTL).Err(); err != nil {
		return fmt.Errorf("mark callback seen: %w", err)
	}
	return nil
}

// resolve finds the message an external id belongs to, preferring the Redis
// index and falling back to the tenant's message store when the index entry
// is gone or points at a different tenant.
func (r *Reconciler) resolve(ctx context.Context, tenantID uuid.UUID, externalID string) (uuid.UUID, bool, error) {
	ref, found, err := r.index.Lookup(ctx, externalID)
	if err != nil {
		return uuid.Nil, false, err
	}
	if found && ref.TenantID == tenantID {
		return ref.MessageID, true, nil
	}

	msg, err := r.store.FindMessageByExternalID(ctx, tenantID, externalID)
	if errors.Is(err, conversations.ErrMessageNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("resolve external id: %w", err)
	}
	return msg.ID, true, nil
}
