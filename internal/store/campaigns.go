package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/botixhq/botix/internal/db"
)

const campaignColumns = `id, tenant_id, integration_id, template_id, name,
	status, schedule, sent_count, failed_count, created_at`

func scanCampaign(row pgx.Row) (Campaign, error) {
	var (
		c                   Campaign
		id, ten, intg, tmpl pgtype.UUID
	)
	err := row.Scan(&id, &ten, &intg, &tmpl, &c.Name, &c.Status, &c.Schedule,
		&c.SentCount, &c.FailedCount, &c.CreatedAt)
	if err != nil {
		return Campaign{}, err
	}
	c.ID = db.UUIDToString(id)
	c.TenantID = db.UUIDToString(ten)
	c.IntegrationID = db.UUIDToString(intg)
	c.TemplateID = db.UUIDToString(tmpl)
	return c, nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		return Campaign{}, wrapErr("get campaign", err)
	}
	return c, nil
}

// ListPendingCampaigns returns campaigns waiting to run, oldest first.
func (s *Store) ListPendingCampaigns(ctx context.Context) ([]Campaign, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1 ORDER BY created_at`, CampaignPending)
	if err != nil {
		return nil, wrapErr("list pending campaigns", err)
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, wrapErr("list pending campaigns", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("list pending campaigns", rows.Err())
}

// ClaimCampaign flips a pending campaign to running. The bool reports whether
// this process won the claim; a concurrent scheduler tick loses quietly.
func (s *Store) ClaimCampaign(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaigns SET status = $2 WHERE id = $1 AND status = $3`,
		id, CampaignRunning, CampaignPending)
	if err != nil {
		return false, wrapErr("claim campaign", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FinishCampaign records the final counters and marks the campaign done.
func (s *Store) FinishCampaign(ctx context.Context, id string, sent, failed int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE campaigns SET status = $2, sent_count = $3, failed_count = $4
		WHERE id = $1`, id, CampaignCompleted, sent, failed)
	return wrapErr("finish campaign", err)
}

// ListCampaignTargets returns the campaign's recipients with their
// per-contact template parameters.
func (s *Store) ListCampaignTargets(ctx context.Context, campaignID string) ([]CampaignTarget, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT campaign_id, contact_id, params
		FROM campaign_targets WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return nil, wrapErr("list campaign targets", err)
	}
	defer rows.Close()

	var out []CampaignTarget
	for rows.Next() {
		var (
			t        CampaignTarget
			cid, con pgtype.UUID
		)
		if err := rows.Scan(&cid, &con, &t.Params); err != nil {
			return nil, wrapErr("list campaign targets", err)
		}
		t.CampaignID = db.UUIDToString(cid)
		t.ContactID = db.UUIDToString(con)
		out = append(out, t)
	}
	return out, wrapErr("list campaign targets", rows.Err())
}
