package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bountyhub/escrow/api/routes"
	"github.com/bountyhub/escrow/internal/billinggate"
	"github.com/bountyhub/escrow/internal/funding"
	"github.com/bountyhub/escrow/internal/identity"
	"github.com/bountyhub/escrow/internal/memberships"
	"github.com/bountyhub/escrow/internal/notifications"
	"github.com/bountyhub/escrow/internal/plans"
	"github.com/bountyhub/escrow/internal/projector"
	"github.com/bountyhub/escrow/internal/webhooks"
	"github.com/bountyhub/escrow/pkg/auth/session"
	"github.com/bountyhub/escrow/pkg/config"
	"github.com/bountyhub/escrow/pkg/db"
	"github.com/bountyhub/escrow/pkg/instance"
	"github.com/bountyhub/escrow/pkg/logger"
	"github.com/bountyhub/escrow/pkg/metrics"
	"github.com/bountyhub/escrow/pkg/migrate"
	"github.com/bountyhub/escrow/pkg/outbox"
	"github.com/bountyhub/escrow/pkg/redis"
	"github.com/bountyhub/escrow/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, cfg.Billing.ProcessorTimeout, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	services, err := buildServices(cfg, logg, dbClient, stripeClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}
	services.Sessions = sessionManager

	addr := ":" + cfg.App.Port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   instance.GetID("local"),
		"stripe_env": stripeClient.Environment(),
	})
	if cfg.App.IsProd() && stripeClient.Environment() != "live" {
		logg.Warn(ctx, "stripe.test_mode_in_prod")
	}
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, prometheus.DefaultGatherer, services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, stripeClient *stripe.Client, reg prometheus.Registerer) (routes.Services, error) {
	identityService, err := identity.NewService(identity.ServiceParams{
		Repo:       identity.NewRepository(dbClient.DB()),
		Processor:  stripeClient,
		Logger:     logg,
		RefreshURL: cfg.Stripe.RefreshURL,
		ReturnURL:  cfg.Stripe.ReturnURL,
	})
	if err != nil {
		return routes.Services{}, err
	}

	notifier, err := notifications.NewService(outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
	if err != nil {
		return routes.Services{}, err
	}

	fundingRepo := funding.NewRepository(dbClient.DB())
	fundingService, err := funding.NewService(funding.ServiceParams{
		Repo:             fundingRepo,
		Identities:       identityService,
		Processor:        stripeClient,
		Notifications:    notifier,
		TxRunner:         dbClient,
		Metrics:          metrics.NewSettlementMetrics(reg),
		Logger:           logg,
		VerifyCapability: cfg.Billing.VerifyCapability,
	})
	if err != nil {
		return routes.Services{}, err
	}

	planService, err := plans.NewService(plans.ServiceParams{
		Repo:                plans.NewRepository(dbClient.DB()),
		Notifications:       notifier,
		Logger:              logg,
		GraceFailedAttempts: cfg.Billing.GraceFailedAttempts,
		ExpiryGrace:         cfg.Billing.PlanExpiryGrace,
	})
	if err != nil {
		return routes.Services{}, err
	}

	reconciler, err := webhooks.NewReconciler(webhooks.ReconcilerParams{
		Repo:                webhooks.NewRepository(dbClient.DB()),
		TxRunner:            dbClient,
		Funding:             fundingService,
		Plans:               planService,
		Identities:          identityService,
		Metrics:             metrics.NewWebhookMetrics(reg),
		Logger:              logg,
		SigningSecret:       cfg.Webhook.Secret,
		StripeSigningSecret: stripeClient.SigningSecret(),
	})
	if err != nil {
		return routes.Services{}, err
	}

	gate, err := billinggate.NewGate(memberships.NewRepository(dbClient.DB()), logg)
	if err != nil {
		return routes.Services{}, err
	}

	projectorService, err := projector.NewService(projector.ServiceParams{
		Identities: identityService,
		Records:    fundingRepo,
		Processor:  stripeClient,
		Cache:      projector.NewBalanceCache(cfg.Billing.BalanceCacheSize, cfg.Billing.BalanceCacheTTL),
		Currency:   cfg.Billing.BalanceCurrency,
	})
	if err != nil {
		return routes.Services{}, err
	}

	return routes.Services{
		Funding:    fundingService,
		Identities: identityService,
		Projector:  projectorService,
		Reconciler: reconciler,
		Gate:       gate,
	}, nil
}
