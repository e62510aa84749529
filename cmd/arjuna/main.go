package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/arjuna-wms/arjuna-wms/internal/app"
	"github.com/arjuna-wms/arjuna-wms/internal/ledger"
	"github.com/arjuna-wms/arjuna-wms/internal/observability"
	"github.com/arjuna-wms/arjuna-wms/internal/platform/cache"
	"github.com/arjuna-wms/arjuna-wms/internal/platform/db"
	"github.com/arjuna-wms/arjuna-wms/internal/recalc"
	"github.com/arjuna-wms/arjuna-wms/internal/shared"
	"github.com/arjuna-wms/arjuna-wms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	drainClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := drainClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, shared.SystemClock{}, auditLogger, drainClient, logger, ledger.ServiceConfig{
		SingleWriteTimeout: cfg.SingleWriteTimeout,
		BulkWriteTimeout:   cfg.BulkWriteTimeout,
	})

	metrics := observability.NewMetrics()

	reportCache := ledger.NewCache(redisClient, cfg.ReportCacheTTL)
	reportService := ledger.NewReportService(ledgerRepo, reportCache)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, reportService, reportCache, metrics)

	recalcRepo := recalc.NewRepository(dbpool)
	recalcService := recalc.NewService(recalcRepo, ledgerService, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, recalcService, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		LedgerHandler: ledgerHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
