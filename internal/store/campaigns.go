package store

import (
	"context"
	"database/sql"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

const campaignColumns = `id, tenant_id, name, type, sub_segment, template_id, recurrence,
	start_date, start_time, end_date, timezone, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(r rowScanner) (model.Campaign, error) {
	var c model.Campaign
	err := r.Scan(&c.ID, &c.TenantID, &c.Name, &c.Type, &c.SubSegment, &c.TemplateID, &c.Recurrence,
		&c.StartDate, &c.StartTime, &c.EndDate, &c.Timezone, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// ListActiveCampaigns is the trigger's cross-tenant scan; every row carries its tenant.
func (s *Store) ListActiveCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = 'ACTIVE'
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCampaign(ctx context.Context, tenantID, id int64) (model.Campaign, error) {
	c, err := scanCampaign(s.DB.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err != nil {
		return model.Campaign{}, notFound(err)
	}
	return c, nil
}

// SetCampaignStatus moves a campaign only if it is still in from.
func (s *Store) SetCampaignStatus(ctx context.Context, tenantID, id int64, from, to model.CampaignStatus) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns
		   SET status = $1, updated_at = NOW()
		 WHERE tenant_id = $2 AND id = $3 AND status = $4
	`, to, tenantID, id, from)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
