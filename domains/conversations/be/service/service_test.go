package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	Repository

	insertFn     func(ctx context.Context, tenantID uuid.UUID, m Message) (Message, error)
	transitionFn func(ctx context.Context, tenantID, messageID uuid.UUID, to DeliveryState) (bool, error)
}

func (m *mockRepository) InsertMessage(ctx context.Context, tenantID uuid.UUID, msg Message) (Message, error) {
	if m.insertFn == nil {
		panic("insertFn not configured")
	}
	return m.insertFn(ctx, tenantID, msg)
}

func (m *mockRepository) TransitionDeliveryState(ctx context.Context, tenantID, messageID uuid.UUID, to DeliveryState) (bool, error) {
	if m.transitionFn == nil {
		panic("transitionFn not configured")
	}
	return m.transitionFn(ctx, tenantID, messageID, to)
}

func TestAppendMessageValidation(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{})
	tenantID := uuid.New()

	_, err := svc.AppendMessage(context.Background(), tenantID, AppendInput{
		Channel: Channel("fax"), Direction: DirectionOutbound, Body: "hi",
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.AppendMessage(context.Background(), tenantID, AppendInput{
		Channel: ChannelSMS, Direction: Direction("sideways"), Body: "hi",
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.AppendMessage(context.Background(), tenantID, AppendInput{
		Channel: ChannelSMS, Direction: DirectionOutbound, Body: "   ",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAppendMessageInitialState(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{
		insertFn: func(ctx context.Context, tenantID uuid.UUID, m Message) (Message, error) {
			return m, nil
		},
	})
	tenantID := uuid.New()

	out, err := svc.AppendMessage(context.Background(), tenantID, AppendInput{
		ConversationID: uuid.New(),
		Direction:      DirectionOutbound,
		Channel:        ChannelSMS,
		Recipient:      "+15551234567",
		Body:           "Hi",
	})
	require.NoError(t, err)
	require.Equal(t, StatePending, out.DeliveryState)
	require.Equal(t, tenantID, out.TenantID)

	in, err := svc.AppendMessage(context.Background(), tenantID, AppendInput{
		ConversationID: uuid.New(),
		Direction:      DirectionInbound,
		Channel:        ChannelSMS,
		Body:           "Hello back",
		ExternalID:     "SM999",
	})
	require.NoError(t, err)
	require.Equal(t, StateDelivered, in.DeliveryState, "inbound messages are terminal on arrival")
	require.Equal(t, "SM999", in.ExternalID)
}

func TestTransitionRejectsUnknownState(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{})
	_, err := svc.TransitionDeliveryState(context.Background(), uuid.New(), uuid.New(), DeliveryState("bogus"))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetExternalIDRequiresValue(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{})
	err := svc.SetExternalID(context.Background(), uuid.New(), uuid.New(), "  ")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAddReactionRequiresEmoji(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{})
	err := svc.AddReaction(context.Background(), uuid.New(), uuid.New(), uuid.New(), "")
	require.ErrorIs(t, err, ErrInvalidInput)
}
