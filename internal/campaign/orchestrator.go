// Package campaign turns active campaigns into runs and queued messages.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/metrics"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

var (
	ErrRunExists         = errors.New("run already exists for period")
	ErrInvalidTransition = errors.New("invalid campaign status transition")
	ErrNotRetriggerable  = errors.New("current period has no failed run")
)

type Store interface {
	TranslationSource

	GetCampaign(ctx context.Context, tenantID, id int64) (model.Campaign, error)
	SetCampaignStatus(ctx context.Context, tenantID, id int64, from, to model.CampaignStatus) (bool, error)

	CreateRun(ctx context.Context, run *model.CampaignRun) error
	LatestRun(ctx context.Context, tenantID, campaignID int64) (*model.CampaignRun, error)
	GetRunByPeriod(ctx context.Context, tenantID, campaignID int64, periodKey string) (model.CampaignRun, error)
	StartRun(ctx context.Context, tenantID, runID int64, at time.Time) error
	SetRunContacts(ctx context.Context, tenantID, runID int64, total, eligible int) error
	FinishRun(ctx context.Context, tenantID, runID int64, status model.RunStatus, note string, at time.Time) error
	DeleteFailedRun(ctx context.Context, tenantID, runID int64) (bool, error)

	CountContacts(ctx context.Context, tenantID int64) (int, error)
	ListEligibleContacts(ctx context.Context, tenantID int64, segment *string) ([]model.Contact, error)
	InsertMessage(ctx context.Context, m *model.Message) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job model.DispatchJob) error
}

type Orchestrator struct {
	store       Store
	queue       Enqueuer
	defaultLang string
}

func NewOrchestrator(st Store, q Enqueuer, defaultLanguage string) *Orchestrator {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &Orchestrator{store: st, queue: q, defaultLang: defaultLanguage}
}

// Evaluate completes expired campaigns and triggers due ones. A run that
// already exists for the period is not an error.
func (o *Orchestrator) Evaluate(ctx context.Context, c model.Campaign, now time.Time) (*model.CampaignRun, error) {
	if c.Status != model.CampaignActive {
		return nil, nil
	}
	if Expired(c, now) {
		if _, err := o.store.SetCampaignStatus(ctx, c.TenantID, c.ID, model.CampaignActive, model.CampaignCompleted); err != nil {
			return nil, err
		}
		logx.L().Infow("campaign_expired", "tenant_id", c.TenantID, "campaign_id", c.ID)
		return nil, nil
	}

	last, err := o.store.LatestRun(ctx, c.TenantID, c.ID)
	if err != nil {
		return nil, err
	}
	if !IsDue(c, last, now) {
		return nil, nil
	}

	run, err := o.Trigger(ctx, c, now)
	if errors.Is(err, ErrRunExists) {
		return nil, nil
	}
	return run, err
}

// Trigger materializes the run for now's period and queues its messages.
func (o *Orchestrator) Trigger(ctx context.Context, c model.Campaign, now time.Time) (*model.CampaignRun, error) {
	run := &model.CampaignRun{
		CampaignID:  c.ID,
		TenantID:    c.TenantID,
		PeriodKey:   PeriodKey(c, now),
		ScheduledAt: ScheduledAt(c, now),
	}
	fields := []any{"tenant_id", c.TenantID, "campaign_id", c.ID, "period_key", run.PeriodKey}

	if err := o.store.CreateRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.RunConflicts.Inc()
			logx.L().Debugw("run_exists", fields...)
			return nil, ErrRunExists
		}
		return nil, fmt.Errorf("create run: %w", err)
	}
	metrics.RunsCreated.Inc()
	fields = append(fields, "run_id", run.ID)

	startedAt := now.UTC()
	if err := o.store.StartRun(ctx, c.TenantID, run.ID, startedAt); err != nil {
		return run, o.failRun(ctx, run, fmt.Errorf("start run: %w", err), fields)
	}
	run.Status = model.RunRunning
	run.StartedAt = &startedAt

	total, err := o.store.CountContacts(ctx, c.TenantID)
	if err != nil {
		return run, o.failRun(ctx, run, fmt.Errorf("count contacts: %w", err), fields)
	}
	contacts, err := o.store.ListEligibleContacts(ctx, c.TenantID, c.SubSegment)
	if err != nil {
		return run, o.failRun(ctx, run, fmt.Errorf("eligible contacts: %w", err), fields)
	}
	run.TotalContacts, run.EligibleContacts = total, len(contacts)
	if err := o.store.SetRunContacts(ctx, c.TenantID, run.ID, total, len(contacts)); err != nil {
		return run, o.failRun(ctx, run, fmt.Errorf("record contacts: %w", err), fields)
	}
	logx.L().Infow("run_started", append(fields, "eligible", len(contacts), "total", total)...)

	resolver := NewTemplateResolver(o.store, c.TemplateID, o.defaultLang)
	for _, ct := range contacts {
		if err := o.queueContact(ctx, c, run, resolver, ct); err != nil {
			return run, o.failRun(ctx, run, err, fields)
		}
	}

	completedAt := time.Now().UTC()
	if err := o.store.FinishRun(ctx, c.TenantID, run.ID, model.RunCompleted, "", completedAt); err != nil {
		return run, o.failRun(ctx, run, fmt.Errorf("finish run: %w", err), fields)
	}
	run.Status = model.RunCompleted
	run.CompletedAt = &completedAt

	if c.Recurrence == model.RecurrenceOneTime {
		if _, err := o.store.SetCampaignStatus(ctx, c.TenantID, c.ID, model.CampaignActive, model.CampaignCompleted); err != nil {
			logx.L().Warnw("campaign_complete_error", append(fields, "error", err)...)
		}
	}

	logx.L().Infow("run_queued", append(fields,
		"queued", run.MessagesQueued,
		"failed", run.MessagesFailed,
	)...)
	return run, nil
}

// queueContact creates one message. Data problems produce a FAILED message;
// only infrastructure errors are returned.
func (o *Orchestrator) queueContact(ctx context.Context, c model.Campaign, run *model.CampaignRun, r *TemplateResolver, ct model.Contact) error {
	campaignID, runID := c.ID, run.ID
	msg := &model.Message{
		TenantID:   c.TenantID,
		ContactID:  ct.ID,
		CampaignID: &campaignID,
		RunID:      &runID,
		Phone:      ct.Phone,
		Status:     model.StatusQueued,
	}

	res, err := r.Resolve(ctx, ct)
	switch {
	case IsDataError(err):
		msg.Status = model.StatusFailed
		msg.FailReason = err.Error()
		msg.Language = ct.Language
		if err := o.store.InsertMessage(ctx, msg); err != nil {
			return fmt.Errorf("insert failed message: %w", err)
		}
		run.MessagesFailed++
		logx.L().Warnw("message_unresolvable",
			"run_id", run.ID, "contact_id", ct.ID, "language", ct.Language, "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("resolve template: %w", err)
	}

	msg.TemplateName = res.TemplateName
	msg.Language = res.Language
	msg.Variables = res.Variables
	// InsertMessage counts messages_queued.
	if err := o.store.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	run.MessagesQueued++

	job := model.DispatchJob{MessageID: msg.ID, TenantID: c.TenantID, RunID: &runID}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		// The message stays QUEUED; the stale sweep republishes it.
		logx.L().Warnw("enqueue_error", "run_id", run.ID, "message_id", msg.ID, "error", err)
		return nil
	}
	metrics.PublishedJobsTotal.Inc()
	return nil
}

func (o *Orchestrator) failRun(ctx context.Context, run *model.CampaignRun, cause error, fields []any) error {
	metrics.RunsFailed.Inc()
	logx.L().Errorw("run_failed", append(fields, "error", cause)...)

	at := time.Now().UTC()
	if err := o.store.FinishRun(ctx, run.TenantID, run.ID, model.RunFailed, cause.Error(), at); err != nil {
		logx.L().Errorw("run_fail_record_error", append(fields, "error", err)...)
	}
	run.Status = model.RunFailed
	run.ErrorNote = cause.Error()
	run.CompletedAt = &at
	return cause
}

// Retrigger re-runs the current period after its run FAILED. The failed run
// owns no messages and is removed first.
func (o *Orchestrator) Retrigger(ctx context.Context, tenantID, campaignID int64, now time.Time) (*model.CampaignRun, error) {
	c, err := o.store.GetCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignActive {
		return nil, fmt.Errorf("campaign is %s: %w", c.Status, ErrNotRetriggerable)
	}

	key := PeriodKey(c, now)
	run, err := o.store.GetRunByPeriod(ctx, tenantID, campaignID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("period %s: %w", key, ErrNotRetriggerable)
	}
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunFailed {
		return nil, fmt.Errorf("period %s run is %s: %w", key, run.Status, ErrNotRetriggerable)
	}

	ok, err := o.store.DeleteFailedRun(ctx, tenantID, run.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %d: %w", run.ID, ErrNotRetriggerable)
	}
	logx.L().Infow("run_retrigger", "tenant_id", tenantID, "campaign_id", campaignID, "period_key", key, "failed_run_id", run.ID)
	return o.Trigger(ctx, c, now)
}

func (o *Orchestrator) Activate(ctx context.Context, tenantID, id int64) error {
	c, err := o.store.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	return o.move(ctx, c, model.CampaignDraft, model.CampaignActive)
}

// Pause stops future runs. Messages already queued are still delivered.
func (o *Orchestrator) Pause(ctx context.Context, tenantID, id int64) error {
	c, err := o.store.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return err
	}
	return o.move(ctx, c, model.CampaignActive, model.CampaignPaused)
}

func (o *Orchestrator) Resume(ctx context.Context, tenantID, id int64) error {
	c, err := o.store.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return err
	}
	return o.move(ctx, c, model.CampaignPaused, model.CampaignActive)
}

func (o *Orchestrator) move(ctx context.Context, c model.Campaign, from, to model.CampaignStatus) error {
	if c.Status != from {
		return fmt.Errorf("%s -> %s: %w", c.Status, to, ErrInvalidTransition)
	}
	ok, err := o.store.SetCampaignStatus(ctx, c.TenantID, c.ID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	logx.L().Infow("campaign_status", "tenant_id", c.TenantID, "campaign_id", c.ID, "from", from, "to", to)
	return nil
}
