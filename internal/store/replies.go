package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/botixhq/botix/internal/db"
)

const replyColumns = `id, tenant_id, conversation_id, sender_user_id,
	external_id, kind, body, media_url, status, sent_at`

func scanReply(row pgx.Row) (OutboundReply, error) {
	var (
		r                     OutboundReply
		id, ten, conv, sender pgtype.UUID
	)
	err := row.Scan(&id, &ten, &conv, &sender,
		&r.ExternalID, &r.Kind, &r.Body, &r.MediaURL, &r.Status, &r.SentAt)
	if err != nil {
		return OutboundReply{}, err
	}
	r.ID = db.UUIDToString(id)
	r.TenantID = db.UUIDToString(ten)
	r.ConversationID = db.UUIDToString(conv)
	r.SenderUserID = db.UUIDToString(sender)
	return r, nil
}

// InsertReply records an outbound reply after the channel accepted it.
func (s *Store) InsertReply(ctx context.Context, r OutboundReply) (OutboundReply, error) {
	if r.Status == "" {
		r.Status = ReplyStatusSent
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO outbound_replies
			(tenant_id, conversation_id, sender_user_id, external_id, kind, body, media_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+replyColumns,
		r.TenantID, r.ConversationID, nullableUUID(r.SenderUserID),
		r.ExternalID, r.Kind, r.Body, r.MediaURL, r.Status)
	stored, err := scanReply(row)
	if err != nil {
		return OutboundReply{}, wrapErr("insert reply", err)
	}
	return stored, nil
}

// UpdateReplyStatus records a delivery receipt keyed by the channel's
// external message id. Receipts for unknown ids return ErrNotFound; status
// callbacks can outlive their messages and callers treat that as benign.
func (s *Store) UpdateReplyStatus(ctx context.Context, tenantID, externalID, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbound_replies SET status = $3
		WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, externalID, status)
	if err != nil {
		return wrapErr("update reply status", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr("update reply status", pgx.ErrNoRows)
	}
	return nil
}

// ListReplies returns a conversation's outbound replies, newest first.
func (s *Store) ListReplies(ctx context.Context, conversationID string, limit int) ([]OutboundReply, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+replyColumns+` FROM outbound_replies
		WHERE conversation_id = $1 ORDER BY sent_at DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, wrapErr("list replies", err)
	}
	defer rows.Close()

	var out []OutboundReply
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			return nil, wrapErr("list replies", err)
		}
		out = append(out, r)
	}
	return out, wrapErr("list replies", rows.Err())
}
