package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/tenantcast/internal/campaign"
	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/config"
	"github.com/Mutter0815/tenantcast/pkg/db"
	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/metrics"
	"github.com/Mutter0815/tenantcast/pkg/rmq"
)

func main() {
	logx.Init("scheduler")
	defer logx.Sync()

	config.MustLoadScheduler()
	cfg := config.Scheduled

	if cfg.DB.RunMigrations {
		if err := db.Migrate(cfg.DB.DSN); err != nil {
			logx.L().Fatalw("db_migrate_error", "error", err)
		}
	}

	sqlDB, err := db.Open(cfg.DB.DSN, cfg.DB.MaxOpenConns)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()

	pub, err := rmq.NewPublisher(cfg.RMQ.URL, cfg.RMQ.Queue)
	if err != nil {
		logx.L().Fatalw("rmq_publisher_error", "error", err)
	}
	defer pub.Close()

	st := store.New(sqlDB)
	jobs := rmq.NewJobQueue(pub)
	orch := campaign.NewOrchestrator(st, jobs, cfg.Scheduler.DefaultLanguage)
	sched := campaign.NewScheduler(orch, st, jobs, cfg.Scheduler.StaleAfter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx, cfg.Scheduler.Spec); err != nil {
		logx.L().Fatalw("scheduler_start_error", "error", err)
	}

	msrv := metrics.Serve(":" + cfg.MetricsPort)
	go func() {
		if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.L().Errorw("metrics_server_error", "error", err)
		}
	}()

	<-ctx.Done()
	logx.L().Infow("signal_received")

	shCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(shCtx)
	_ = msrv.Shutdown(shCtx)
	logx.L().Infow("scheduler stopped gracefully")
}
