package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/courier/domains/conversations/be/service"
)

// MemoryRepository is an in-memory implementation suitable for tests and
// early development. Data is partitioned per tenant the same way the
// postgres implementation partitions per database.
type MemoryRepository struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]*tenantData
}

type tenantData struct {
	conversations map[uuid.UUID]service.Conversation
	messages      map[uuid.UUID]service.Message
	byExternalID  map[string]uuid.UUID
	reactions     map[reactionKey]service.Reaction
}

type reactionKey struct {
	messageID uuid.UUID
	authorID  uuid.UUID
	emoji     string
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tenants: make(map[uuid.UUID]*tenantData)}
}

func (r *MemoryRepository) tenant(id uuid.UUID) *tenantData {
	td, ok := r.tenants[id]
	if !ok {
		td = &tenantData{
			conversations: make(map[uuid.UUID]service.Conversation),
			messages:      make(map[uuid.UUID]service.Message),
			byExternalID:  make(map[string]uuid.UUID),
			reactions:     make(map[reactionKey]service.Reaction),
		}
		r.tenants[id] = td
	}
	return td
}

func (r *MemoryRepository) CreateConversation(ctx context.Context, tenantID uuid.UUID, c service.Conversation) (service.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenant(tenantID).conversations[c.ID] = c
	return c, nil
}

func (r *MemoryRepository) GetConversation(ctx context.Context, tenantID, id uuid.UUID) (service.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.tenants[tenantID]
	if !ok {
		return service.Conversation{}, service.ErrConversationNotFound
	}
	c, ok := td.conversations[id]
	if !ok {
		return service.Conversation{}, service.ErrConversationNotFound
	}
	return c, nil
}

func (r *MemoryRepository) InsertMessage(ctx context.Context, tenantID uuid.UUID, m service.Message) (service.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	td := r.tenant(tenantID)
	td.messages[m.ID] = m
	if m.ExternalID != "" {
		td.byExternalID[m.ExternalID] = m.ID
	}
	return m, nil
}

func (r *MemoryRepository) GetMessage(ctx context.Context, tenantID, id uuid.UUID) (service.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.tenants[tenantID]
	if !ok {
		return service.Message{}, service.ErrMessageNotFound
	}
	m, ok := td.messages[id]
	if !ok {
		return service.Message{}, service.ErrMessageNotFound
	}
	return m, nil
}

func (r *MemoryRepository) ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID) ([]service.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	var messages []service.Message
	for _, m := range td.messages {
		if m.ConversationID == conversationID {
			messages = append(messages, m)
		}
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedAt.Before(messages[j].CreatedAt) })
	return messages, nil
}

func (r *MemoryRepository) SetExternalID(ctx context.Context, tenantID, messageID uuid.UUID, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	td := r.tenant(tenantID)
	m, ok := td.messages[messageID]
	if !ok {
		return service.ErrMessageNotFound
	}
	m.ExternalID = externalID
	m.UpdatedAt = time.Now().UTC()
	td.messages[messageID] = m
	td.byExternalID[externalID] = messageID
	return nil
}

func (r *MemoryRepository) TransitionDeliveryState(ctx context.Context, tenantID, messageID uuid.UUID, to service.DeliveryState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	td := r.tenant(tenantID)
	m, ok := td.messages[messageID]
	if !ok {
		return false, service.ErrMessageNotFound
	}
	if !m.DeliveryState.CanTransition(to) {
		return false, nil
	}
	m.DeliveryState = to
	m.UpdatedAt = time.Now().UTC()
	td.messages[messageID] = m
	return true, nil
}

func (r *MemoryRepository) FindMessageByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (service.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.tenants[tenantID]
	if !ok {
		return service.Message{}, service.ErrMessageNotFound
	}
	id, ok := td.byExternalID[externalID]
	if !ok {
		return service.Message{}, service.ErrMessageNotFound
	}
	return td.messages[id], nil
}

func (r *MemoryRepository) AddReaction(ctx context.Context, tenantID uuid.UUID, reaction service.Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	td := r.tenant(tenantID)
	key := reactionKey{messageID: reaction.MessageID, authorID: reaction.AuthorID, emoji: reaction.Emoji}
	if _, exists := td.reactions[key]; exists {
		return nil
	}
	td.reactions[key] = reaction
	return nil
}

func (r *MemoryRepository) RemoveReaction(ctx context.Context, tenantID, messageID, authorID uuid.UUID, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	td := r.tenant(tenantID)
	delete(td.reactions, reactionKey{messageID: messageID, authorID: authorID, emoji: emoji})
	return nil
}

func (r *MemoryRepository) ListReactions(ctx context.Context, tenantID, messageID uuid.UUID) ([]service.Reaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	var reactions []service.Reaction
	for _, rc := range td.reactions {
		if rc.MessageID == messageID {
			reactions = append(reactions, rc)
		}
	}
	sort.Slice(reactions, func(i, j int) bool { return reactions[i].CreatedAt.Before(reactions[j].CreatedAt) })
	return reactions, nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
