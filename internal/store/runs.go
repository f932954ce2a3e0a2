package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

const runColumns = `id, campaign_id, tenant_id, period_key, scheduled_at, started_at, completed_at,
	status, error_note, total_contacts, eligible_contacts, messages_queued, messages_sent,
	messages_delivered, messages_read, messages_failed`

func scanRun(r rowScanner) (model.CampaignRun, error) {
	var run model.CampaignRun
	err := r.Scan(&run.ID, &run.CampaignID, &run.TenantID, &run.PeriodKey, &run.ScheduledAt,
		&run.StartedAt, &run.CompletedAt, &run.Status, &run.ErrorNote, &run.TotalContacts,
		&run.EligibleContacts, &run.MessagesQueued, &run.MessagesSent, &run.MessagesDelivered,
		&run.MessagesRead, &run.MessagesFailed)
	return run, err
}

var counterColumns = map[model.RunCounter]bool{
	model.CounterQueued:    true,
	model.CounterSent:      true,
	model.CounterDelivered: true,
	model.CounterRead:      true,
	model.CounterFailed:    true,
}

// CreateRun inserts a PENDING run. A second run for the same period fails
// with ErrConflict; the constraint is the scheduler's only lock.
func (s *Store) CreateRun(ctx context.Context, run *model.CampaignRun) error {
	run.Status = model.RunPending
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO campaign_runs (campaign_id, tenant_id, period_key, scheduled_at, status)
		VALUES ($1,$2,$3,$4,$5) RETURNING id
	`, run.CampaignID, run.TenantID, run.PeriodKey, run.ScheduledAt, run.Status).Scan(&run.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("run %d/%s: %w", run.CampaignID, run.PeriodKey, ErrConflict)
	}
	return err
}

func (s *Store) LatestRun(ctx context.Context, tenantID, campaignID int64) (*model.CampaignRun, error) {
	run, err := scanRun(s.DB.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM campaign_runs
		WHERE tenant_id = $1 AND campaign_id = $2
		ORDER BY scheduled_at DESC, id DESC
		LIMIT 1
	`, tenantID, campaignID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) GetRunByPeriod(ctx context.Context, tenantID, campaignID int64, periodKey string) (model.CampaignRun, error) {
	run, err := scanRun(s.DB.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM campaign_runs
		WHERE tenant_id = $1 AND campaign_id = $2 AND period_key = $3
	`, tenantID, campaignID, periodKey))
	if err != nil {
		return model.CampaignRun{}, notFound(err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, tenantID, campaignID int64, limit int) ([]model.CampaignRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM campaign_runs
		WHERE tenant_id = $1 AND campaign_id = $2
		ORDER BY scheduled_at DESC
		LIMIT $3
	`, tenantID, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CampaignRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) StartRun(ctx context.Context, tenantID, runID int64, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE campaign_runs
		   SET status = 'RUNNING', started_at = $1
		 WHERE tenant_id = $2 AND id = $3 AND status = 'PENDING'
	`, at, tenantID, runID)
	return err
}

func (s *Store) SetRunContacts(ctx context.Context, tenantID, runID int64, total, eligible int) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE campaign_runs
		   SET total_contacts = $1, eligible_contacts = $2
		 WHERE tenant_id = $3 AND id = $4
	`, total, eligible, tenantID, runID)
	return err
}

// FinishRun closes a run that is still open. Finished runs are left untouched.
func (s *Store) FinishRun(ctx context.Context, tenantID, runID int64, status model.RunStatus, note string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE campaign_runs
		   SET status = $1, error_note = $2, completed_at = $3
		 WHERE tenant_id = $4 AND id = $5 AND status IN ('PENDING','RUNNING')
	`, status, note, at, tenantID, runID)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func incrementCounter(ctx context.Context, db execer, tenantID, runID int64, counter model.RunCounter) error {
	if !counterColumns[counter] {
		return fmt.Errorf("unknown run counter %q", counter)
	}
	_, err := db.ExecContext(ctx, `
		UPDATE campaign_runs SET `+string(counter)+` = `+string(counter)+` + 1
		 WHERE tenant_id = $1 AND id = $2
	`, tenantID, runID)
	return err
}

// DeleteFailedRun removes a FAILED run that never produced messages, freeing
// its period for an operator re-trigger.
func (s *Store) DeleteFailedRun(ctx context.Context, tenantID, runID int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM campaign_runs r
		 WHERE r.tenant_id = $1 AND r.id = $2 AND r.status = 'FAILED'
		   AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.run_id = r.id)
	`, tenantID, runID)
	if err != nil {
		return false, err
	}
	return affected(res)
}
