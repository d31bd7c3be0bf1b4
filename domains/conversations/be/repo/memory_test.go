package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/courier/domains/conversations/be/service"
)

func seedMessage(t *testing.T, r *MemoryRepository, tenantID uuid.UUID) service.Message {
	t.Helper()

	now := time.Now().UTC()
	m := service.Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		TenantID:       tenantID,
		Direction:      service.DirectionOutbound,
		Channel:        service.ChannelSMS,
		Recipient:      "+15551234567",
		Body:           "Hi",
		DeliveryState:  service.StatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := r.InsertMessage(context.Background(), tenantID, m)
	require.NoError(t, err)
	return m
}

func TestTenantIsolation(t *testing.T) {
	t.Parallel()

	r := NewMemoryRepository()
	ctx := context.Background()
	tenantA, tenantB := uuid.New(), uuid.New()

	m := seedMessage(t, r, tenantA)
	require.NoError(t, r.SetExternalID(ctx, tenantA, m.ID, "SM123"))

	// Tenant B must not see tenant A's message through any lookup path.
	_, err := r.GetMessage(ctx, tenantB, m.ID)
	require.ErrorIs(t, err, service.ErrMessageNotFound)

	_, err = r.FindMessageByExternalID(ctx, tenantB, "SM123")
	require.ErrorIs(t, err, service.ErrMessageNotFound)

	_, err = r.GetConversation(ctx, tenantB, m.ConversationID)
	require.ErrorIs(t, err, service.ErrConversationNotFound)
}

func TestTransitionDeliveryStateIsMonotonic(t *testing.T) {
	t.Parallel()

	r := NewMemoryRepository()
	ctx := context.Background()
	tenantID := uuid.New()
	m := seedMessage(t, r, tenantID)

	applied, err := r.TransitionDeliveryState(ctx, tenantID, m.ID, service.StateSent)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = r.TransitionDeliveryState(ctx, tenantID, m.ID, service.StateDelivered)
	require.NoError(t, err)
	require.True(t, applied)

	// A late duplicate and a stale sent echo are both silent no-ops.
	applied, err = r.TransitionDeliveryState(ctx, tenantID, m.ID, service.StateDelivered)
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = r.TransitionDeliveryState(ctx, tenantID, m.ID, service.StateSent)
	require.NoError(t, err)
	require.False(t, applied)

	got, err := r.GetMessage(ctx, tenantID, m.ID)
	require.NoError(t, err)
	require.Equal(t, service.StateDelivered, got.DeliveryState)
}

func TestTransitionUnknownMessage(t *testing.T) {
	t.Parallel()

	r := NewMemoryRepository()
	_, err := r.TransitionDeliveryState(context.Background(), uuid.New(), uuid.New(), service.StateSent)
	require.ErrorIs(t, err, service.ErrMessageNotFound)
}

func TestReactionUniquenessAndIdempotentRemoval(t *testing.T) {
	t.Parallel()

	r := NewMemoryRepository()
	ctx := context.Background()
	tenantID := uuid.New()
	m := seedMessage(t, r, tenantID)
	author := uuid.New()

	reaction := service.Reaction{MessageID: m.ID, AuthorID: author, Emoji: "👍", CreatedAt: time.Now().UTC()}
	require.NoError(t, r.AddReaction(ctx, tenantID, reaction))
	require.NoError(t, r.AddReaction(ctx, tenantID, reaction))

	reactions, err := r.ListReactions(ctx, tenantID, m.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 1, "one reaction per (message, author, emoji)")

	require.NoError(t, r.RemoveReaction(ctx, tenantID, m.ID, author, "👍"))
	require.NoError(t, r.RemoveReaction(ctx, tenantID, m.ID, author, "👍"))

	reactions, err = r.ListReactions(ctx, tenantID, m.ID)
	require.NoError(t, err)
	require.Empty(t, reactions)
}

func TestListMessagesOrdersByCreation(t *testing.T) {
	t.Parallel()

	r := NewMemoryRepository()
	ctx := context.Background()
	tenantID := uuid.New()
	conversationID := uuid.New()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		m := service.Message{
			ID:             uuid.New(),
			ConversationID: conversationID,
			TenantID:       tenantID,
			Direction:      service.DirectionOutbound,
			Channel:        service.ChannelSMS,
			Body:           "msg",
			DeliveryState:  service.StatePending,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		_, err := r.InsertMessage(ctx, tenantID, m)
		require.NoError(t, err)
	}

	messages, err := r.ListMessages(ctx, tenantID, conversationID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i := 1; i < len(messages); i++ {
		require.True(t, messages[i-1].CreatedAt.Before(messages[i].CreatedAt))
	}
}
