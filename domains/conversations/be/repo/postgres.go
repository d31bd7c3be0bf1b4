package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaycore/courier/domains/conversations/be/service"
	"github.com/relaycore/courier/platform/go/connpool"
)

// PostgresRepository persists conversations, messages and reactions in each
// tenant's dedicated database. Every operation checks a handle out of the
// pool manager for exactly one tenant and returns it on all exit paths.
type PostgresRepository struct {
	pools *connpool.Manager
}

// NewPostgresRepository constructs a repository on top of the pool manager.
func NewPostgresRepository(pools *connpool.Manager) *PostgresRepository {
	if pools == nil {
		panic("pool manager is required")
	}
	return &PostgresRepository{pools: pools}
}

func (r *PostgresRepository) withConn(ctx context.Context, tenantID uuid.UUID, fn func(q connpool.Querier) error) error {
	h, err := r.pools.Acquire(ctx, tenantID)
	if err != nil {
		return err
	}
	defer r.pools.Release(h)
	return fn(h.Conn())
}

func (r *PostgresRepository) CreateConversation(ctx context.Context, tenantID uuid.UUID, c service.Conversation) (service.Conversation, error) {
	err := r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO conversations (conversation_id, tenant_id, subject, created_at)
			VALUES ($1, $2, $3, $4)`,
			c.ID, c.TenantID, c.Subject, c.CreatedAt)
		return err
	})
	if err != nil {
		return service.Conversation{}, err
	}
	return c, nil
}

func (r *PostgresRepository) GetConversation(ctx context.Context, tenantID, id uuid.UUID) (service.Conversation, error) {
	var c service.Conversation
	err := r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		row := q.QueryRow(ctx, `
			SELECT conversation_id, tenant_id, subject, created_at
			FROM conversations WHERE conversation_id = $1 AND tenant_id = $2`,
			id, tenantID)
		return row.Scan(&c.ID, &c.TenantID, &c.Subject, &c.CreatedAt)
	})
	if err != nil {
		return service.Conversation{}, mapNotFound(err, service.ErrConversationNotFound)
	}
	return c, nil
}

const messageColumns = `message_id, conversation_id, tenant_id, direction, channel, recipient, body, delivery_state, external_id, created_at, updated_at`

func (r *PostgresRepository) InsertMessage(ctx context.Context, tenantID uuid.UUID, m service.Message) (service.Message, error) {
	err := r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO messages (`+messageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`,
			m.ID, m.ConversationID, m.TenantID, string(m.Direction), string(m.Channel),
			m.Recipient, m.Body, string(m.DeliveryState), m.ExternalID, m.CreatedAt, m.UpdatedAt)
		return err
	})
	if err != nil {
		return service.Message{}, err
	}
	return m, nil
}

func (r *PostgresRepository) GetMessage(ctx context.Context, tenantID, id uuid.UUID) (service.Message, error) {
	var m service.Message
	err := r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		row := q.QueryRow(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE message_id = $1 AND tenant_id = $2`, id, tenantID)
		return scanMessage(row, &m)
	})
	if err != nil {
		return service.Message{}, mapNotFound(err, service.ErrMessageNotFound)
	}
	return m, nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID) ([]service.Message, error) {
	var messages []service.Message
	err := r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		rows, err := q.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1 AND tenant_id = $2
			ORDER BY created_at`, conversationID, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m service.Message
			if err := scanMessage(rows, &m); err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PostgresRepository) SetExternalID(ctx context.Context, tenantID, messageID uuid.UUID, externalID string) error {
	return r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		tag, err := q.Exec(ctx, `
			UPDATE messages SET external_id = $3, updated_at = now()
			WHERE message_id = $1 AND tenant_id = $2`, messageID, tenantID, externalID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return service.ErrMessageNotFound
		}
		return nil
	})
}

// The CASE expressions mirror service.DeliveryState.Rank so the monotonicity
// guard executes atomically inside the UPDATE.
func (r *PostgresRepository) TransitionDeliveryState(ctx context.Context, tenantID, messageID uuid.UUID, to service.DeliveryState) (bool, error) {
	applied := false
	err := r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		tag, err := q.Exec(ctx, `
			UPDATE messages SET delivery_state = $3, updated_at = now()
			WHERE message_id = $1 AND tenant_id = $2
			  AND CASE delivery_state WHEN 'pending' THEN 0 WHEN 'sent' THEN 1 ELSE 2 END
			    < CASE $3 WHEN 'pending' THEN 0 WHEN 'sent' THEN 1 ELSE 2 END`,
			messageID, tenantID, string(to))
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			applied = true
			return nil
		}

		// Distinguish a guarded no-op from a missing row.
		var exists bool
		row := q.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM messages WHERE message_id = $1 AND tenant_id = $2)`,
			messageID, tenantID)
		if err := row.Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return service.ErrMessageNotFound
		}
		return nil
	})
	return applied, err
}

func (r *PostgresRepository) FindMessageByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (service.Message, error) {
	var m service.Message
	err := r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		row := q.QueryRow(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE external_id = $1 AND tenant_id = $2`, externalID, tenantID)
		return scanMessage(row, &m)
	})
	if err != nil {
		return service.Message{}, mapNotFound(err, service.ErrMessageNotFound)
	}
	return m, nil
}

func (r *PostgresRepository) AddReaction(ctx context.Context, tenantID uuid.UUID, reaction service.Reaction) error {
	return r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO reactions (message_id, author_id, emoji, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, author_id, emoji) DO NOTHING`,
			reaction.MessageID, reaction.AuthorID, reaction.Emoji, reaction.CreatedAt)
		return err
	})
}

func (r *PostgresRepository) RemoveReaction(ctx context.Context, tenantID, messageID, authorID uuid.UUID, emoji string) error {
	return r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		_, err := q.Exec(ctx, `
			DELETE FROM reactions WHERE message_id = $1 AND author_id = $2 AND emoji = $3`,
			messageID, authorID, emoji)
		return err
	})
}

func (r *PostgresRepository) ListReactions(ctx context.Context, tenantID, messageID uuid.UUID) ([]service.Reaction, error) {
	var reactions []service.Reaction
	err := r.withConn(ctx, tenantID, func(q connpool.Querier) error {
		rows, err := q.Query(ctx, `
			SELECT message_id, author_id, emoji, created_at
			FROM reactions WHERE message_id = $1
			ORDER BY created_at`, messageID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rc service.Reaction
			if err := rows.Scan(&rc.MessageID, &rc.AuthorID, &rc.Emoji, &rc.CreatedAt); err != nil {
				return err
			}
			reactions = append(reactions, rc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

func scanMessage(row pgx.Row, m *service.Message) error {
	var direction, channel, state string
	var externalID *string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.TenantID, &direction, &channel,
		&m.Recipient, &m.Body, &state, &externalID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return err
	}
	m.Direction = service.Direction(direction)
	m.Channel = service.Channel(channel)
	m.DeliveryState = service.DeliveryState(state)
	if externalID != nil {
		m.ExternalID = *externalID
	}
	return nil
}

func mapNotFound(err error, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
