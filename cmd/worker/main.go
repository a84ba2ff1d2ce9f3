package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/recyleto/recyleto/internal/app"
	"github.com/recyleto/recyleto/internal/catalog"
	jobmetrics "github.com/recyleto/recyleto/internal/jobs"
	"github.com/recyleto/recyleto/internal/notify"
	"github.com/recyleto/recyleto/internal/numbering"
	"github.com/recyleto/recyleto/internal/platform/cache"
	"github.com/recyleto/recyleto/internal/platform/db"
	"github.com/recyleto/recyleto/internal/receipts"
	"github.com/recyleto/recyleto/internal/refunds"
	"github.com/recyleto/recyleto/internal/salesproj"
	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
	"github.com/recyleto/recyleto/jobs"
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

	auditLogger := shared.NewAuditLogger(pool)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, auditLogger)

	numberingRepo := numbering.NewRepository(pool)
	numberingService := numbering.NewService(numberingRepo, logger)

	txRepo := transactions.NewRepository(pool)
	txService := transactions.NewService(txRepo, logger, auditLogger)

	receiptsRepo := receipts.NewRepository(pool)
	receiptsService := receipts.NewService(receiptsRepo, numberingService, logger)

	refundsRepo := refunds.NewRepository(pool)

	salesRepo := salesproj.NewRepository(pool)
	salesService := salesproj.NewService(salesRepo, txRepo, receiptsService, refundsRepo, catalogService, logger)

	mailer := notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, logger)
	idempotency := shared.NewIdempotencyStore(pool)

	handlers := jobs.NewHandlers(txService, receiptsService, salesService, mailer, idempotency, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:     asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:        logger,
		Handlers:      handlers,
		Metrics:       jobmetrics.NewMetrics(nil),
		CartSweepCron: "*/15 * * * *",
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
