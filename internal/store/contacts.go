package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/botixhq/botix/internal/db"
)

const contactColumns = `id, tenant_id, address, name, metadata, created_at`

func scanContact(row pgx.Row) (Contact, error) {
	var (
		c        Contact
		id, ten  pgtype.UUID
		metadata map[string]string
	)
	err := row.Scan(&id, &ten, &c.Address, &c.Name, &metadata, &c.CreatedAt)
	if err != nil {
		return Contact{}, err
	}
	c.ID = db.UUIDToString(id)
	c.TenantID = db.UUIDToString(ten)
	c.Metadata = metadata
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	return c, nil
}

// InsertContact creates a contact unless one already exists for the tenant
// and address. The second return reports whether this call created the row;
// false means another writer got there first and the caller should re-read.
func (s *Store) InsertContact(ctx context.Context, tenantID, address, name string) (Contact, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (tenant_id, address, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, address) DO NOTHING
		RETURNING `+contactColumns,
		tenantID, address, name)
	c, err := scanContact(row)
	if err == nil {
		return c, true, nil
	}
	if err == pgx.ErrNoRows {
		return Contact{}, false, nil
	}
	return Contact{}, false, wrapErr("insert contact", err)
}

func (s *Store) GetContact(ctx context.Context, id string) (Contact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err != nil {
		return Contact{}, wrapErr("get contact", err)
	}
	return c, nil
}

func (s *Store) GetContactByAddress(ctx context.Context, tenantID, address string) (Contact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE tenant_id = $1 AND address = $2`,
		tenantID, address)
	c, err := scanContact(row)
	if err != nil {
		return Contact{}, wrapErr("get contact by address", err)
	}
	return c, nil
}

// UpdateContact overwrites the mutable profile fields.
func (s *Store) UpdateContact(ctx context.Context, id, name string, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE contacts SET name = $2, metadata = $3 WHERE id = $1`,
		id, name, metadata)
	if err != nil {
		return wrapErr("update contact", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr("update contact", pgx.ErrNoRows)
	}
	return nil
}
