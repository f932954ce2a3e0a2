package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/tenantcast/internal/campaign"
	"github.com/Mutter0815/tenantcast/internal/dispatch"
	"github.com/Mutter0815/tenantcast/internal/gateway"
	"github.com/Mutter0815/tenantcast/internal/otp"
	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/config"
	"github.com/Mutter0815/tenantcast/pkg/db"
	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/rmq"
	"github.com/Mutter0815/tenantcast/services/campaign-api/server"
)

func main() {
	logx.Init("campaign-api")
	defer logx.Sync()

	config.MustLoadAPI()
	cfg := config.API

	if cfg.DB.RunMigrations {
		if err := db.Migrate(cfg.DB.DSN); err != nil {
			logx.L().Fatalw("db_migrate_error", "error", err)
		}
		logx.L().Infow("db_migrated")
	}

	sqlDB, err := db.Open(cfg.DB.DSN, cfg.DB.MaxOpenConns)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		} else {
			logx.L().Infow("db_closed")
		}
	}()

	st := store.New(sqlDB)

	pub, err := rmq.NewPublisher(cfg.RMQ.URL, cfg.RMQ.Queue)
	if err != nil {
		logx.L().Fatalw("rmq_init_error", "error", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logx.L().Warnw("rmq_publisher_close_error", "error", err)
		} else {
			logx.L().Infow("rmq_publisher_closed")
		}
	}()
	jobs := rmq.NewJobQueue(pub)

	gw := gateway.NewCloudClient(cfg.Gateway)
	if gw.DevMode() {
		logx.L().Warnw("gateway_dev_mode", "reason", "phone number id or access token not set")
	}

	orch := campaign.NewOrchestrator(st, jobs, cfg.Scheduler.DefaultLanguage)
	auth := otp.New(st, gw, otp.Options{
		Production:  cfg.OTP.Production,
		TTL:         cfg.OTP.CodeTTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		Title:       cfg.OTP.MessageTitle,
	})
	sessions := otp.NewSessions(cfg.OTP.TokenSecret, cfg.OTP.TokenTTL)

	h := server.NewHandlers(st, orch, auth, sessions, dispatch.NewIngester(st), cfg)
	srv := server.NewHTTPServer(":"+cfg.Port, h)

	bg, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	var sched *campaign.Scheduler
	if cfg.Scheduler.Enabled {
		sched = campaign.NewScheduler(orch, st, jobs, cfg.Scheduler.StaleAfter)
		if err := sched.Start(bg, cfg.Scheduler.Spec); err != nil {
			logx.L().Fatalw("scheduler_start_error", "error", err)
		}
	}

	go func() {
		logx.L().Infow("api_listen_start", "addr", ":"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logx.L().Infow("signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if sched != nil {
		sched.Stop(ctx)
	}
	cancelBg()

	if err := srv.Shutdown(ctx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}

	logx.L().Infow("campaign-api stopped gracefully")
}
