package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Errors returned by the conversation store.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidInput         = errors.New("invalid message input")
)

// Repository abstracts tenant-scoped persistence. Every call runs against a
// connection resolved for exactly the given tenant; implementations must not
// let a query span tenants.
type Repository interface {
	CreateConversation(ctx context.Context, tenantID uuid.UUID, c Conversation) (Conversation, error)
	GetConversation(ctx context.Context, tenantID, id uuid.UUID) (Conversation, error)
	InsertMessage(ctx context.Context, tenantID uuid.UUID, m Message) (Message, error)
	GetMessage(ctx context.Context, tenantID, id uuid.UUID) (Message, error)
	ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID) ([]Message, error)
	SetExternalID(ctx context.Context, tenantID, messageID uuid.UUID, externalID string) error
	// TransitionDeliveryState applies the monotonic state machine atomically
	// and reports whether the transition was applied.
	TransitionDeliveryState(ctx context.Context, tenantID, messageID uuid.UUID, to DeliveryState) (bool, error)
	FindMessageByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (Message, error)
	AddReaction(ctx context.Context, tenantID uuid.UUID, reaction Reaction) error
	RemoveReaction(ctx context.Context, tenantID, messageID, authorID uuid.UUID, emoji string) error
	ListReactions(ctx context.Context, tenantID, messageID uuid.UUID) ([]Reaction, error)
}

// Service is the conversation/message store consumed by handlers, the job
// lifecycle tracker and the webhook reconciler.
type Service struct {
	repo Repository
	now  func() time.Time
}

// New constructs a Service.
func New(repo Repository) *Service {
	if repo == nil {
		panic("conversations repo is required")
	}
	return &Service{repo: repo, now: time.Now}
}

// CreateConversation starts an empty conversation for the tenant.
func (s *Service) CreateConversation(ctx context.Context, tenantID uuid.UUID, subject string) (Conversation, error) {
	c := Conversation{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Subject:   strings.TrimSpace(subject),
		CreatedAt: s.now().UTC(),
	}
	return s.repo.CreateConversation(ctx, tenantID, c)
}

// GetConversation returns a conversation with its messages.
func (s *Service) GetConversation(ctx context.Context, tenantID, id uuid.UUID) (Conversation, []Message, error) {
	c, err := s.repo.GetConversation(ctx, tenantID, id)
	if err != nil {
		return Conversation{}, nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, tenantID, id)
	if err != nil {
		return Conversation{}, nil, err
	}
	return c, msgs, nil
}

// AppendInput describes a message to append.
type AppendInput struct {
	ConversationID uuid.UUID
	Direction      Direction
	Channel        Channel
	Recipient      string
	Body           string
	// ExternalID is set for inbound messages that already carry a carrier id.
	ExternalID string
}

// AppendMessage creates a message row. Outbound messages start pending and
// are advanced by the dispatch pipeline; inbound messages are terminal on
// arrival.
func (s *Service) AppendMessage(ctx context.Context, tenantID uuid.UUID, input AppendInput) (Message, error) {
	if !ValidChannel(input.Channel) {
		return Message{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, input.Channel)
	}
	if input.Direction != DirectionInbound && input.Direction != DirectionOutbound {
		return Message{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, input.Direction)
	}
	if strings.TrimSpace(input.Body) == "" {
		return Message{}, fmt.Errorf("%w: body is required", ErrInvalidInput)
	}

	state := StatePending
	if input.Direction == DirectionInbound {
		state = StateDelivered
	}

	now := s.now().UTC()
	m := Message{
		ID:             uuid.New(),
		ConversationID: input.ConversationID,
		TenantID:       tenantID,
		Direction:      input.Direction,
		Channel:        input.Channel,
		Recipient:      strings.TrimSpace(input.Recipient),
		Body:           input.Body,
		DeliveryState:  state,
		ExternalID:     input.ExternalID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.repo.InsertMessage(ctx, tenantID, m)
}

// GetMessage returns a single message.
func (s *Service) GetMessage(ctx context.Context, tenantID, id uuid.UUID) (Message, error) {
	return s.repo.GetMessage(ctx, tenantID, id)
}

// SetExternalID records the carrier-assigned id on a message at send time.
func (s *Service) SetExternalID(ctx context.Context, tenantID, messageID uuid.UUID, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return fmt.Errorf("%w: external id is required", ErrInvalidInput)
	}
	return s.repo.SetExternalID(ctx, tenantID, messageID, externalID)
}

// TransitionDeliveryState advances a message's delivery state. Transitions
// that do not move the lifecycle forward return applied=false and no error.
func (s *Service) TransitionDeliveryState(ctx context.Context, tenantID, messageID uuid.UUID, to DeliveryState) (bool, error) {
	if to.Rank() < 0 {
		return false, fmt.Errorf("%w: unknown delivery state %q", ErrInvalidInput, to)
	}
	return s.repo.TransitionDeliveryState(ctx, tenantID, messageID, to)
}

// FindMessageByExternalID looks a message up by its carrier id.
func (s *Service) FindMessageByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (Message, error) {
	return s.repo.FindMessageByExternalID(ctx, tenantID, externalID)
}

// AddReaction attaches a reaction. Adding the same (message, author, emoji)
// tuple twice leaves a single reaction in place.
func (s *Service) AddReaction(ctx context.Context, tenantID, messageID, authorID uuid.UUID, emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return fmt.Errorf("%w: emoji is required", ErrInvalidInput)
	}
	return s.repo.AddReaction(ctx, tenantID, Reaction{
		MessageID: messageID,
		AuthorID:  authorID,
		Emoji:     emoji,
		CreatedAt: s.now().UTC(),
	})
}

// RemoveReaction detaches a reaction. Removing an absent reaction is not an error.
func (s *Service) RemoveReaction(ctx context.Context, tenantID, messageID, authorID uuid.UUID, emoji string) error {
	return s.repo.RemoveReaction(ctx, tenantID, messageID, authorID, emoji)
}

// ListReactions returns the reactions attached to a message.
func (s *Service) ListReactions(ctx context.Context, tenantID, messageID uuid.UUID) ([]Reaction, error) {
	return s.repo.ListReactions(ctx, tenantID, messageID)
}
