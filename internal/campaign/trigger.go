package campaign

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/metrics"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

const sweepBatch = 500

type ScanStore interface {
	ListActiveCampaigns(ctx context.Context) ([]model.Campaign, error)
	ListStaleQueued(ctx context.Context, cutoff time.Time, limit int) ([]model.Message, error)
	TouchQueued(ctx context.Context, tenantID, id int64, at time.Time) error
}

// Scheduler is the periodic trigger. It keeps no state between ticks, so any
// number of processes may run it; run uniqueness in the database decides.
type Scheduler struct {
	orch       *Orchestrator
	store      ScanStore
	queue      Enqueuer
	staleAfter time.Duration
	cron       *cron.Cron
}

func NewScheduler(orch *Orchestrator, st ScanStore, q Enqueuer, staleAfter time.Duration) *Scheduler {
	return &Scheduler{orch: orch, store: st, queue: q, staleAfter: staleAfter}
}

// Start registers the tick under spec (e.g. "@every 1m") and runs it in the
// background until Stop.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	_, err := s.cron.AddFunc(spec, func() {
		now := time.Now().UTC()
		s.Tick(ctx, now)
		s.Sweep(ctx, now)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	logx.L().Infow("scheduler_started", "spec", spec, "stale_after", s.staleAfter.String())
	return nil
}

// Stop waits for a running tick to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Tick evaluates every active campaign. One campaign failing never stops the
// others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	metrics.SchedulerTicks.Inc()
	campaigns, err := s.store.ListActiveCampaigns(ctx)
	if err != nil {
		logx.L().Errorw("scheduler_list_error", "error", err)
		return
	}
	for _, c := range campaigns {
		if ctx.Err() != nil {
			return
		}
		run, err := s.orch.Evaluate(ctx, c, now)
		if err != nil {
			logx.L().Errorw("campaign_evaluate_error", "tenant_id", c.TenantID, "campaign_id", c.ID, "error", err)
			continue
		}
		if run != nil {
			logx.L().Infow("campaign_triggered", "tenant_id", c.TenantID, "campaign_id", c.ID,
				"run_id", run.ID, "period_key", run.PeriodKey, "status", run.Status)
		}
	}
}

// Sweep republishes messages stuck in QUEUED. Dispatch is idempotent, so a
// job that was only slow is harmless to send twice.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	if s.staleAfter <= 0 {
		return
	}
	stale, err := s.store.ListStaleQueued(ctx, now.Add(-s.staleAfter), sweepBatch)
	if err != nil {
		logx.L().Errorw("sweep_list_error", "error", err)
		return
	}
	for _, m := range stale {
		job := model.DispatchJob{MessageID: m.ID, TenantID: m.TenantID, RunID: m.RunID}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			logx.L().Warnw("sweep_enqueue_error", "message_id", m.ID, "error", err)
			return
		}
		metrics.PublishedJobsTotal.Inc()
		if err := s.store.TouchQueued(ctx, m.TenantID, m.ID, now); err != nil {
			logx.L().Warnw("sweep_touch_error", "message_id", m.ID, "error", err)
		}
	}
	if len(stale) > 0 {
		logx.L().Infow("sweep_requeued", "count", len(stale))
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	logx.L().Debugw("cron_"+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	logx.L().Errorw("cron_"+msg, append(kv, "error", err)...)
}
