package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/botixhq/botix/internal/db"
)

func (s *Store) GetTemplate(ctx context.Context, id string) (Template, error) {
	var (
		t        Template
		tid, ten pgtype.UUID
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, body, created_at
		FROM templates WHERE id = $1`, id).
		Scan(&tid, &ten, &t.Name, &t.Body, &t.CreatedAt)
	if err != nil {
		return Template{}, wrapErr("get template", err)
	}
	t.ID = db.UUIDToString(tid)
	t.TenantID = db.UUIDToString(ten)
	return t, nil
}

func (s *Store) GetTemplateByName(ctx context.Context, tenantID, name string) (Template, error) {
	var (
		t        Template
		tid, ten pgtype.UUID
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, body, created_at
		FROM templates WHERE tenant_id = $1 AND name = $2`,
		tenantID, name).
		Scan(&tid, &ten, &t.Name, &t.Body, &t.CreatedAt)
	if err != nil {
		return Template{}, wrapErr("get template by name", err)
	}
	t.ID = db.UUIDToString(tid)
	t.TenantID = db.UUIDToString(ten)
	return t, nil
}
