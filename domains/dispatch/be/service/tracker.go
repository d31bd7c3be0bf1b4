package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	conversations "github.com/relaycore/courier/domains/conversations/be/service"
	"github.com/relaycore/courier/domains/dispatch/be/queue"
)

// ConversationStore is the slice of the conversations service the tracker
// needs to reflect job outcomes onto messages.
type ConversationStore interface {
	SetExternalID(ctx context.Context, tenantID, messageID uuid.UUID, externalID string) error
	TransitionDeliveryState(ctx context.Context, tenantID, messageID uuid.UUID, to conversations.DeliveryState) (bool, error)
}

// Tracker ties queue outcomes back to message delivery state. A completed
// send stores the carrier external id, moves the message to sent and indexes
// the id for webhook correlation; a terminal failure moves it to failed.
// Jobs aborted by shutdown are left pending so a restart can resend them.
type Tracker struct {
	store   ConversationStore
	index   *DispatchIndex
	router  *queue.Router
	logger  *zap.Logger
	timeout time.Duration

	subs []*queue.Subscription
}

// NewTracker constructs a Tracker. timeout bounds the store and index calls
// made from queue worker goroutines; <= 0 defaults to 10 seconds.
func NewTracker(store ConversationStore, index *DispatchIndex, router *queue.Router, logger *zap.Logger, timeout time.Duration) *Tracker {
	if store == nil {
		panic("conversation store is required")
	}
	if index == nil {
		panic("dispatch index is required")
	}
	if router == nil {
		panic("queue router is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tracker{
		store:   store,
		index:   index,
		router:  router,
		logger:  logger.With(zap.String("component", "job-tracker")),
		timeout: timeout,
	}
}

// sendQueues are the queues whose outcomes map onto message delivery state.
// Analytics jobs have no message lifecycle of their own.
func sendQueues() []queue.Name {
	return []queue.Name{queue.Mail, queue.SMS, queue.MMS}
}

// Attach subscribes the tracker to every send queue.
func (t *Tracker) Attach() {
	for _, name := range sendQueues() {
		q := t.router.Queue(name)
		t.subs = append(t.subs,
			q.OnCompleted(t.handleCompleted),
			q.OnFailed(t.handleFailed),
		)
	}
}

// Detach cancels all subscriptions.
func (t *Tracker) Detach() {
	for _, sub := range t.subs {
		sub.Cancel()
	}
	t.subs = nil
}

func (t *Tracker) handleCompleted(job queue.Job, externalID string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	log := t.logger.With(
		zap.String("queue", string(job.Queue)),
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("message_id", job.MessageID.String()),
		zap.String("external_id", externalID))

	if err := t.store.SetExternalID(ctx, job.TenantID, job.MessageID, externalID); err != nil {
		log.Error("failed to store external id", zap.Error(err))
		return
	}
	if _, err := t.store.TransitionDeliveryState(ctx, job.TenantID, job.MessageID, conversations.StateSent); err != nil {
		log.Error("failed to mark message sent", zap.Error(err))
		return
	}
	if err := t.index.Put(ctx, externalID, Ref{TenantID: job.TenantID, MessageID: job.MessageID}); err != nil {
		// Correlation degrades to the store fallback; the send itself stands.
		log.Warn("failed to index external id", zap.Error(err))
	}

	t.recordEvent(ctx, job, EventMessageSent)
	log.Debug("send completed")
}

func (t *Tracker) handleFailed(job queue.Job, reason error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	log := t.logger.With(
		zap.String("queue", string(job.Queue)),
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("message_id", job.MessageID.String()))

	if errors.Is(reason, queue.ErrShutdownAbort) {
		log.Warn("send aborted by shutdown, message stays pending")
		return
	}

	if _, err := t.store.TransitionDeliveryState(ctx, job.TenantID, job.MessageID, conversations.StateFailed); err != nil {
		log.Error("failed to mark message failed", zap.Error(err))
		return
	}

	t.recordEvent(ctx, job, EventMessageFailed)
	log.Info("send failed", zap.Error(reason))
}

func (t *Tracker) recordEvent(ctx context.Context, job queue.Job, event string) {
	_, err := t.router.Enqueue(ctx, queue.Analytics, queue.Job{
		TenantID:  job.TenantID,
		MessageID: job.MessageID,
		Body:      event,
	})
	if err != nil && !errors.Is(err, queue.ErrQueueDisabled) {
		t.logger.Warn("failed to enqueue analytics event",
			zap.String("event", event),
			zap.Error(err))
	}
}

// AnalyticsProcessor adapts an AnalyticsRecorder into the analytics queue's
// ProcessFunc. The job body carries the event name.
func AnalyticsProcessor(recorder *AnalyticsRecorder) queue.ProcessFunc {
	return func(ctx context.Context, job queue.Job) (queue.Result, error) {
		if err := recorder.Record(ctx, job.TenantID, job.Body); err != nil {
			return queue.Result{}, err
		}
		return queue.Result{}, nil
	}
}
