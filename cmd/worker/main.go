package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arjuna-wms/arjuna-wms/internal/app"
	jobmetrics "github.com/arjuna-wms/arjuna-wms/internal/jobs"
	"github.com/arjuna-wms/arjuna-wms/internal/ledger"
	"github.com/arjuna-wms/arjuna-wms/internal/platform/db"
	"github.com/arjuna-wms/arjuna-wms/internal/recalc"
	"github.com/arjuna-wms/arjuna-wms/internal/shared"
	"github.com/arjuna-wms/arjuna-wms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, shared.SystemClock{}, auditLogger, nil, logger, ledger.ServiceConfig{
		SingleWriteTimeout: cfg.SingleWriteTimeout,
		BulkWriteTimeout:   cfg.BulkWriteTimeout,
	})

	recalcRepo := recalc.NewRepository(pool)
	recalcService := recalc.NewService(recalcRepo, ledgerService, logger)

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	drainJob := recalc.NewDrainJob(recalcService, metrics, logger)
	retryJob := recalc.NewRetryJob(recalcService, metrics, logger)

	retryTask, err := jobs.NewStockRecalcRetryTask(15)
	if err != nil {
		logger.Error("build retry task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewStockRecalcDrainTask(0)
	if err != nil {
		logger.Error("build drain task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStockRecalcDrain, Handler: drainJob.Handle},
			{Type: jobs.TaskStockRecalcRetry, Handler: retryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/15 * * * *", Task: retryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
