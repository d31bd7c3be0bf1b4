package service

import (
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes messages we send from messages the carrier relays in.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Channel is the transport a message travels on.
type Channel string

const (
	ChannelSMS  Channel = "sms"
	ChannelMMS  Channel = "mms"
	ChannelMail Channel = "mail"
)

// ValidChannel reports whether c names a message channel.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelSMS, ChannelMMS, ChannelMail:
		return true
	}
	return false
}

// DeliveryState is the lifecycle stage of an outbound message.
//
// pending -> sent -> delivered      carrier confirmed receipt
// pending -> sent -> undelivered    carrier reported failure
// pending -> failed                 local send failed after retry exhaustion
type DeliveryState string

const (
	StatePending     DeliveryState = "pending"
	StateSent        DeliveryState = "sent"
	StateDelivered   DeliveryState = "delivered"
	StateUndelivered DeliveryState = "undelivered"
	StateFailed      DeliveryState = "failed"
)

// Rank orders delivery states so transitions can be guarded by monotonicity
// instead of event arrival order. Terminal states share the top rank: once a
// message is delivered, a stale undelivered echo can never overwrite it.
func (s DeliveryState) Rank() int {
	switch s {
	case StatePending:
		return 0
	case StateSent:
		return 1
	case StateDelivered, StateUndelivered, StateFailed:
		return 2
	}
	return -1
}

// CanTransition reports whether moving to the target state advances the
// lifecycle. Duplicate or backwards transitions are no-ops, not errors: the
// same job completion or carrier callback may be observed more than once.
func (s DeliveryState) CanTransition(to DeliveryState) bool {
	return to.Rank() > s.Rank()
}

// Conversation groups messages for one tenant.
type Conversation struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Subject   string
	CreatedAt time.Time
}

// Message belongs to exactly one conversation and one tenant.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	TenantID       uuid.UUID
	Direction      Direction
	Channel        Channel
	Recipient      string
	Body           string
	DeliveryState  DeliveryState
	// ExternalID is assigned by the carrier once the send is accepted and is
	// the correlation key for delivery-status callbacks.
	ExternalID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Reaction is attached to a message independently of its delivery state.
// At most one reaction exists per (message, author, emoji).
type Reaction struct {
	MessageID uuid.UUID
	AuthorID  uuid.UUID
	Emoji     string
	CreatedAt time.Time
}
