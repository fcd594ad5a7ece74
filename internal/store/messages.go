package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/botixhq/botix/internal/db"
)

const inboundColumns = `id, tenant_id, conversation_id, external_id, kind,
	body, media_url, latitude, longitude, received_at`

func scanInbound(row pgx.Row) (InboundMessage, error) {
	var (
		m             InboundMessage
		id, ten, conv pgtype.UUID
	)
	err := row.Scan(&id, &ten, &conv, &m.ExternalID, &m.Kind,
		&m.Body, &m.MediaURL, &m.Latitude, &m.Longitude, &m.ReceivedAt)
	if err != nil {
		return InboundMessage{}, err
	}
	m.ID = db.UUIDToString(id)
	m.TenantID = db.UUIDToString(ten)
	m.ConversationID = db.UUIDToString(conv)
	return m, nil
}

// InsertInbound stores an inbound message. A second call with the same
// tenant and external id is a no-op; the inserted return reports whether
// this call actually wrote the row.
func (s *Store) InsertInbound(ctx context.Context, m InboundMessage) (InboundMessage, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO inbound_messages
			(tenant_id, conversation_id, external_id, kind, body, media_url, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, external_id) DO NOTHING
		RETURNING `+inboundColumns,
		m.TenantID, m.ConversationID, m.ExternalID, m.Kind,
		m.Body, m.MediaURL, m.Latitude, m.Longitude)
	stored, err := scanInbound(row)
	if err == nil {
		return stored, true, nil
	}
	if err == pgx.ErrNoRows {
		return InboundMessage{}, false, nil
	}
	return InboundMessage{}, false, wrapErr("insert inbound", err)
}

// ListInbound returns a conversation's inbound messages, newest first.
func (s *Store) ListInbound(ctx context.Context, conversationID string, limit int) ([]InboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+inboundColumns+` FROM inbound_messages
		WHERE conversation_id = $1 ORDER BY received_at DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, wrapErr("list inbound", err)
	}
	defer rows.Close()

	var out []InboundMessage
	for rows.Next() {
		m, err := scanInbound(rows)
		if err != nil {
			return nil, wrapErr("list inbound", err)
		}
		out = append(out, m)
	}
	return out, wrapErr("list inbound", rows.Err())
}
