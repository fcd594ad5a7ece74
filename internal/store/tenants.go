package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/botixhq/botix/internal/db"
)

func (s *Store) GetTenant(ctx context.Context, id string) (Tenant, error) {
	var (
		t         Tenant
		tid, resp pgtype.UUID
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, default_responsible_user_id, created_at
		FROM tenants WHERE id = $1`, id).
		Scan(&tid, &t.Name, &resp, &t.CreatedAt)
	if err != nil {
		return Tenant{}, wrapErr("get tenant", err)
	}
	t.ID = db.UUIDToString(tid)
	t.DefaultResponsibleUserID = db.UUIDToString(resp)
	return t, nil
}

const userColumns = `id, tenant_id, name, email, role, push_token, created_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		u       User
		id, ten pgtype.UUID
	)
	err := row.Scan(&id, &ten, &u.Name, &u.Email, &u.Role, &u.PushToken, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	u.ID = db.UUIDToString(id)
	u.TenantID = db.UUIDToString(ten)
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return User{}, wrapErr("get user", err)
	}
	return u, nil
}

// ListAdmins returns every admin user of the tenant. Dispatch fans new
// messages out to these plus the responsible user.
func (s *Store) ListAdmins(ctx context.Context, tenantID string) ([]User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE tenant_id = $1 AND role = $2 ORDER BY created_at`,
		tenantID, RoleAdmin)
	if err != nil {
		return nil, wrapErr("list admins", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapErr("list admins", err)
		}
		out = append(out, u)
	}
	return out, wrapErr("list admins", rows.Err())
}

// ListAgents returns the tenant's agents in creation order. Campaign sends
// rotate responsibility across this list.
func (s *Store) ListAgents(ctx context.Context, tenantID string) ([]User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE tenant_id = $1 AND role = $2 ORDER BY created_at`,
		tenantID, RoleAgent)
	if err != nil {
		return nil, wrapErr("list agents", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapErr("list agents", err)
		}
		out = append(out, u)
	}
	return out, wrapErr("list agents", rows.Err())
}
