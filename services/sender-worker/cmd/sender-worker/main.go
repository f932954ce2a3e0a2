package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/tenantcast/internal/dispatch"
	"github.com/Mutter0815/tenantcast/internal/gateway"
	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/config"
	"github.com/Mutter0815/tenantcast/pkg/db"
	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/metrics"
	"github.com/Mutter0815/tenantcast/pkg/rmq"
	"github.com/Mutter0815/tenantcast/services/sender-worker/worker"
)

func main() {
	logx.Init("sender-worker")
	defer logx.Sync()

	config.MustLoadWorker()
	cfg := config.Worker

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

	cons, err := rmq.NewConsumer(cfg.RMQ.URL, cfg.RMQ.Queue, cfg.RMQ.Prefetch)
	if err != nil {
		logx.L().Fatalw("rmq_consumer_error", "error", err)
	}
	defer cons.Close()

	pub, err := rmq.NewPublisher(cfg.RMQ.URL, cfg.RMQ.Queue)
	if err != nil {
		logx.L().Fatalw("rmq_publisher_error", "error", err)
	}
	defer pub.Close()

	gw := gateway.NewCloudClient(cfg.Gateway)
	if gw.DevMode() {
		logx.L().Warnw("gateway_dev_mode", "reason", "phone number id or access token not set")
	}

	policy := dispatch.RetryPolicy{
		MaxRetries: cfg.Dispatch.MaxRetries,
		BaseDelay:  cfg.Dispatch.BaseDelay,
		MaxDelay:   cfg.Dispatch.MaxDelay,
	}
	d := dispatch.NewDispatcher(store.New(sqlDB), gw, policy, cfg.Gateway.Timeout)
	w := worker.New(d, cons, rmq.NewJobQueue(pub), cfg.Dispatch.Workers)

	msrv := metrics.Serve(":" + cfg.MetricsPort)
	go func() {
		logx.L().Infow("metrics_listen_start", "addr", msrv.Addr)
		if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.L().Errorw("metrics_server_error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logx.L().Errorw("worker_error", "error", err)
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = msrv.Shutdown(shCtx)
	logx.L().Infow("sender-worker stopped gracefully")
}
