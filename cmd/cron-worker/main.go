package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bountyhub/escrow/internal/cron"
	"github.com/bountyhub/escrow/internal/notifications"
	"github.com/bountyhub/escrow/internal/plans"
	"github.com/bountyhub/escrow/internal/webhooks"
	"github.com/bountyhub/escrow/pkg/config"
	"github.com/bountyhub/escrow/pkg/db"
	"github.com/bountyhub/escrow/pkg/logger"
	"github.com/bountyhub/escrow/pkg/metrics"
	"github.com/bountyhub/escrow/pkg/migrate"
	"github.com/bountyhub/escrow/pkg/outbox"
	"github.com/bountyhub/escrow/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	outboxRepo := outbox.NewRepository(dbClient.DB())
	notifier, err := notifications.NewService(outbox.NewService(outboxRepo, logg))
	if err != nil {
		return nil, err
	}
	planService, err := plans.NewService(plans.ServiceParams{
		Repo:                plans.NewRepository(dbClient.DB()),
		Notifications:       notifier,
		Logger:              logg,
		GraceFailedAttempts: cfg.Billing.GraceFailedAttempts,
		ExpiryGrace:         cfg.Billing.PlanExpiryGrace,
	})
	if err != nil {
		return nil, err
	}

	planExpiry, err := cron.NewPlanExpiryJob(cron.PlanExpiryJobParams{Logger: logg, Plans: planService})
	if err != nil {
		return nil, err
	}
	webhookRetention, err := cron.NewWebhookRetentionJob(cron.WebhookRetentionJobParams{
		Logger:     logg,
		Repository: webhooks.NewRepository(dbClient.DB()),
		Retention:  cfg.Webhook.RetentionDays,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		Retention:   cfg.Outbox.RetentionDays,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(planExpiry, webhookRetention, outboxRetention)
}
