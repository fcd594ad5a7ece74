package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/botixhq/botix/internal/db"
)

// GetScriptByBotUser returns the enabled automation script owned by the
// given bot user, if any.
func (s *Store) GetScriptByBotUser(ctx context.Context, tenantID, botUserID string) (AutomationScript, error) {
	var (
		script        AutomationScript
		id, ten, user pgtype.UUID
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, bot_user_id, name, source, capabilities, enabled, updated_at
		FROM automation_scripts
		WHERE tenant_id = $1 AND bot_user_id = $2 AND enabled`,
		tenantID, botUserID).
		Scan(&id, &ten, &user, &script.Name, &script.Source,
			&script.Capabilities, &script.Enabled, &script.UpdatedAt)
	if err != nil {
		return AutomationScript{}, wrapErr("get script by bot user", err)
	}
	script.ID = db.UUIDToString(id)
	script.TenantID = db.UUIDToString(ten)
	script.BotUserID = db.UUIDToString(user)
	return script, nil
}
