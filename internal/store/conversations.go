package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/botixhq/botix/internal/db"
)

const conversationColumns = `id, tenant_id, contact_id, integration_id, state,
	responsible_user_id, unread_count, last_update, created_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c                   Conversation
		id, ten, cont, intg pgtype.UUID
		resp                pgtype.UUID
	)
	err := row.Scan(&id, &ten, &cont, &intg, &c.State, &resp,
		&c.UnreadCount, &c.LastUpdate, &c.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	c.ID = db.UUIDToString(id)
	c.TenantID = db.UUIDToString(ten)
	c.ContactID = db.UUIDToString(cont)
	c.IntegrationID = db.UUIDToString(intg)
	c.ResponsibleUserID = db.UUIDToString(resp)
	return c, nil
}

func nullableUUID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

// InsertConversation opens a conversation unless one already exists for the
// tenant, contact and integration. The second return reports whether this
// call created the row.
func (s *Store) InsertConversation(ctx context.Context, tenantID, contactID, integrationID, state, responsibleUserID string) (Conversation, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (tenant_id, contact_id, integration_id, state, responsible_user_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, contact_id, integration_id) DO NOTHING
		RETURNING `+conversationColumns,
		tenantID, contactID, integrationID, state, nullableUUID(responsibleUserID))
	c, err := scanConversation(row)
	if err == nil {
		return c, true, nil
	}
	if err == pgx.ErrNoRows {
		return Conversation{}, false, nil
	}
	return Conversation{}, false, wrapErr("insert conversation", err)
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err != nil {
		return Conversation{}, wrapErr("get conversation", err)
	}
	return c, nil
}

func (s *Store) FindConversation(ctx context.Context, tenantID, contactID, integrationID string) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE tenant_id = $1 AND contact_id = $2 AND integration_id = $3`,
		tenantID, contactID, integrationID)
	c, err := scanConversation(row)
	if err != nil {
		return Conversation{}, wrapErr("find conversation", err)
	}
	return c, nil
}

// SetState persists a state transition and bumps last_update.
func (s *Store) SetState(ctx context.Context, id, state string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET state = $2, last_update = now() WHERE id = $1`,
		id, state)
	if err != nil {
		return wrapErr("set state", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr("set state", pgx.ErrNoRows)
	}
	return nil
}

// AssignResponsible moves ownership of the conversation to userID. An empty
// userID clears the assignment.
func (s *Store) AssignResponsible(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET responsible_user_id = $2, last_update = now() WHERE id = $1`,
		id, nullableUUID(userID))
	if err != nil {
		return wrapErr("assign responsible", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr("assign responsible", pgx.ErrNoRows)
	}
	return nil
}

// IncrementUnread adds one to the unread counter atomically in the database,
// so concurrent inbound messages never lose increments.
func (s *Store) IncrementUnread(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET unread_count = unread_count + 1, last_update = now()
		WHERE id = $1`, id)
	if err != nil {
		return wrapErr("increment unread", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr("increment unread", pgx.ErrNoRows)
	}
	return nil
}

// ResetUnread zeroes the counter when an agent opens the conversation.
func (s *Store) ResetUnread(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET unread_count = 0 WHERE id = $1`, id)
	return wrapErr("reset unread", err)
}

// ListConversations returns the tenant's conversations newest-activity first.
func (s *Store) ListConversations(ctx context.Context, tenantID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE tenant_id = $1 ORDER BY last_update DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, wrapErr("list conversations", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, wrapErr("list conversations", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("list conversations", rows.Err())
}
