package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/douma-dental/manager/internal/app"
	"github.com/douma-dental/manager/internal/auth"
	"github.com/douma-dental/manager/internal/billing"
	"github.com/douma-dental/manager/internal/notify"
	"github.com/douma-dental/manager/internal/orders"
	"github.com/douma-dental/manager/internal/platform/cache"
	"github.com/douma-dental/manager/internal/platform/db"
	"github.com/douma-dental/manager/internal/settings"
	"github.com/douma-dental/manager/internal/shared"
	"github.com/douma-dental/manager/internal/stock"
	"github.com/douma-dental/manager/jobs"
)

func main() {
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
		logger.Error("connect postgres", slog.Any("error", err))
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

	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	cacheStore := cache.NewCache(redisClient, logger)
	sessions := shared.NewSessionManager(redisClient, "douma_session", cfg.SessionTTL, cfg.IsProduction())
	audit := shared.NewAuditLogger(pool, logger)
	notifier := notify.New(queue, logger)
	validate := validator.New()

	settingsService := settings.NewService(settings.NewRepository(pool), cacheStore, logger)
	stockService := stock.NewService(stock.NewRepository(pool), audit, logger)
	ordersService := orders.NewService(orders.NewRepository(pool), settingsService, audit, notifier, cacheStore, logger)
	billingService := billing.NewService(billing.NewRepository(pool), settingsService, audit, notifier, cacheStore, logger)
	authService := auth.NewService(auth.NewRepository(pool))

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessions,
		AuthHandler:    auth.NewHandler(logger, authService, sessions, validate),
		OrdersHandler:  orders.NewHandler(logger, ordersService, validate),
		BillingHandler: billing.NewHandler(logger, billingService, validate),
		StockHandler:   stock.NewHandler(logger, stockService, validate),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
}
