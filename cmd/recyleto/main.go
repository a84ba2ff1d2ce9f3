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

	"github.com/recyleto/recyleto/internal/app"
	"github.com/recyleto/recyleto/internal/cart"
	"github.com/recyleto/recyleto/internal/catalog"
	"github.com/recyleto/recyleto/internal/checkout"
	"github.com/recyleto/recyleto/internal/numbering"
	"github.com/recyleto/recyleto/internal/observability"
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

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	locker := shared.NewLocker(redisClient, cfg.CheckoutLockTTL)
	metrics := observability.NewMetrics()

	catalogRepo := catalog.NewRepository(dbpool)
	catalogService := catalog.NewService(catalogRepo, auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	numberingRepo := numbering.NewRepository(dbpool)
	numberingService := numbering.NewService(numberingRepo, logger)

	txRepo := transactions.NewRepository(dbpool)
	txService := transactions.NewService(txRepo, logger, auditLogger)
	txHandler := transactions.NewHandler(logger, txService)

	cartService := cart.NewService(txRepo, catalogService, numberingService, logger, cfg.CartTTL)
	cartHandler := cart.NewHandler(logger, cartService)

	receiptsRepo := receipts.NewRepository(dbpool)
	receiptsService := receipts.NewService(receiptsRepo, numberingService, logger)
	receiptsHandler := receipts.NewHandler(logger, receiptsService)

	checkoutService := checkout.NewService(txRepo, catalogService, receiptsService, locker, jobsClient, metrics, auditLogger, logger, checkout.FeePolicy{
		BaseFee:       cfg.DeliveryBaseFee,
		FreeThreshold: cfg.DeliveryFreeThreshold,
		Surcharge:     cfg.DeliverySurcharge,
	})
	checkoutHandler := checkout.NewHandler(logger, checkoutService)

	refundsRepo := refunds.NewRepository(dbpool)
	refundsService := refunds.NewService(refundsRepo, receiptsService, catalogService, txService, numberingService, jobsClient, metrics, auditLogger, logger, cfg.RefundWindow())
	refundsHandler := refunds.NewHandler(logger, refundsService)

	salesRepo := salesproj.NewRepository(dbpool)
	salesService := salesproj.NewService(salesRepo, txRepo, receiptsService, refundsRepo, catalogService, logger)
	salesHandler := salesproj.NewHandler(logger, salesService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		CatalogHandler:      catalogHandler,
		CartHandler:         cartHandler,
		CheckoutHandler:     checkoutHandler,
		TransactionsHandler: txHandler,
		ReceiptsHandler:     receiptsHandler,
		RefundsHandler:      refundsHandler,
		SalesHandler:        salesHandler,
		JobHandler:          jobHandler,
		Metrics:             metrics,
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
