package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/botixhq/botix/internal/db"
)

const integrationColumns = `id, tenant_id, channel_type, phone_number_id,
	access_token, bot_user_id, automation_family, created_at`

func scanIntegration(row pgx.Row) (Integration, error) {
	var (
		i            Integration
		id, ten, bot pgtype.UUID
	)
	err := row.Scan(&id, &ten, &i.ChannelType, &i.PhoneNumberID,
		&i.AccessToken, &bot, &i.AutomationFamily, &i.CreatedAt)
	if err != nil {
		return Integration{}, err
	}
	i.ID = db.UUIDToString(id)
	i.TenantID = db.UUIDToString(ten)
	i.BotUserID = db.UUIDToString(bot)
	return i, nil
}

func (s *Store) GetIntegration(ctx context.Context, id string) (Integration, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = $1`, id)
	i, err := scanIntegration(row)
	if err != nil {
		return Integration{}, wrapErr("get integration", err)
	}
	return i, nil
}

// FindIntegrationByPhoneNumber looks up the integration a webhook payload
// belongs to, keyed by the channel's own account id.
func (s *Store) FindIntegrationByPhoneNumber(ctx context.Context, channelType, phoneNumberID string) (Integration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE channel_type = $1 AND phone_number_id = $2`,
		channelType, phoneNumberID)
	i, err := scanIntegration(row)
	if err != nil {
		return Integration{}, wrapErr("find integration by phone number", err)
	}
	return i, nil
}

func (s *Store) ListIntegrations(ctx context.Context, tenantID string) ([]Integration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, wrapErr("list integrations", err)
	}
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, wrapErr("list integrations", err)
		}
		out = append(out, i)
	}
	return out, wrapErr("list integrations", rows.Err())
}
