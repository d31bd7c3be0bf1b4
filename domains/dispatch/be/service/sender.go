package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	conversations "github.com/relaycore/courier/domains/conversations/be/service"
	"github.com/relaycore/courier/domains/dispatch/be/queue"
	"github.com/relaycore/courier/platform/go/carrier"
)

// MessageAppender is the slice of the conversations service the sender needs.
type MessageAppender interface {
	AppendMessage(ctx context.Context, tenantID uuid.UUID, input conversations.AppendInput) (conversations.Message, error)
}

// SendInput is one outbound send request.
type SendInput struct {
	ConversationID uuid.UUID
	Channel        conversations.Channel
	Recipient      string
	Body           string
}

// SendReceipt acknowledges an accepted send.
type SendReceipt struct {
	MessageID uuid.UUID
	JobID     uuid.UUID
	Queue     queue.Name
}

// Sender records an outbound message and hands it to its channel queue. The
// message row exists before the job does, so a crash between the two leaves a
// visible pending message rather than an untracked send.
type Sender struct {
	store  MessageAppender
	router *queue.Router
	logger *zap.Logger
}

// NewSender constructs a Sender.
func NewSender(store MessageAppender, router *queue.Router, logger *zap.Logger) *Sender {
	if store == nil {
		panic("conversation store is required")
	}
	if router == nil {
		panic("queue router is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Sender{store: store, router: router, logger: logger.With(zap.String("component", "sender"))}
}

// queueFor maps a message channel to its queue.
func queueFor(ch conversations.Channel) (queue.Name, bool) {
	switch ch {
	case conversations.ChannelMail:
		return queue.Mail, true
	case conversations.ChannelSMS:
		return queue.SMS, true
	case conversations.ChannelMMS:
		return queue.MMS, true
	default:
		return "", false
	}
}

// Send appends the outbound message and enqueues its dispatch job. A disabled
// channel surfaces as queue.ErrQueueDisabled with the message already stored
// as pending.
func (s *Sender) Send(ctx context.Context, tenantID uuid.UUID, input SendInput) (SendReceipt, error) {
	name, ok := queueFor(input.Channel)
	if !ok {
		return SendReceipt{}, fmt.Errorf("%w: unknown channel %q", conversations.ErrInvalidInput, input.Channel)
	}

	msg, err := s.store.AppendMessage(ctx, tenantID, conversations.AppendInput{
		ConversationID: input.ConversationID,
		Direction:      conversations.DirectionOutbound,
		Channel:        input.Channel,
		Recipient:      input.Recipient,
		Body:           input.Body,
	})
	if err != nil {
		return SendReceipt{}, err
	}

	handle, err := s.router.Enqueue(ctx, name, queue.Job{
		TenantID:  tenantID,
		MessageID: msg.ID,
		Recipient: msg.Recipient,
		Body:      msg.Body,
	})
	if err != nil {
		s.logger.Warn("message stored but not enqueued",
			zap.String("tenant_id", tenantID.String()),
			zap.String("message_id", msg.ID.String()),
			zap.String("queue", string(name)),
			zap.Error(err))
		return SendReceipt{MessageID: msg.ID}, err
	}

	return SendReceipt{MessageID: msg.ID, JobID: handle.JobID, Queue: handle.Queue}, nil
}

// CarrierProcessor adapts a carrier gateway into a send queue's ProcessFunc.
// The channel label is fixed per queue.
func CarrierProcessor(gateway carrier.Gateway, channel conversations.Channel) queue.ProcessFunc {
	return func(ctx context.Context, job queue.Job) (queue.Result, error) {
		res, err := gateway.Send(ctx, carrier.SendRequest{
			Channel:   string(channel),
			Recipient: job.Recipient,
			Body:      job.Body,
			Reference: job.MessageID.String(),
		})
		if err != nil {
			return queue.Result{}, err
		}
		return queue.Result{ExternalID: res.ExternalID}, nil
	}
}
