package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bountyhub/escrow/api/controllers"
	fundingcontrollers "github.com/bountyhub/escrow/api/controllers/funding"
	payoutcontrollers "github.com/bountyhub/escrow/api/controllers/payouts"
	webhookcontrollers "github.com/bountyhub/escrow/api/controllers/webhooks"
	"github.com/bountyhub/escrow/api/middleware"
	"github.com/bountyhub/escrow/internal/billinggate"
	"github.com/bountyhub/escrow/internal/identity"
	"github.com/bountyhub/escrow/pkg/auth/session"
	"github.com/bountyhub/escrow/pkg/config"
	"github.com/bountyhub/escrow/pkg/db"
	"github.com/bountyhub/escrow/pkg/logger"
	"github.com/bountyhub/escrow/pkg/redis"
)

type billingGate interface {
	Identify(ctx context.Context, session *billinggate.Session) (*identity.Principal, error)
}

// Services bundles what the HTTP surface calls into.
type Services struct {
	Funding    fundingcontrollers.FundingService
	Identities payoutcontrollers.IdentityService
	Projector  payoutcontrollers.ProjectorService
	Reconciler webhookcontrollers.Reconciler
	Gate       billingGate
	Sessions   session.AccessSessionChecker
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	fundingPolicy := middleware.NewRateLimitPolicy(
		"funding",
		cfg.RateLimit.Window,
		cfg.RateLimit.IPLimit,
		cfg.RateLimit.PrincipalLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg,
			controllers.Dependency{Name: "db", Pinger: dbP},
			controllers.Dependency{Name: "redis", Pinger: redisClient},
		))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// processor callbacks authenticate by signature, not session
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/signed", webhookcontrollers.SignedWebhook(svc.Reconciler, cfg.Webhook, logg))
		r.Post("/stripe", webhookcontrollers.StripeWebhook(svc.Reconciler, cfg.Webhook, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
		r.Use(middleware.Auth(cfg.JWT, svc.Sessions, logg))
		r.Use(middleware.BillingPrincipal(svc.Gate, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/funding", func(r chi.Router) {
			r.With(middleware.RateLimit(fundingPolicy, redisClient, logg)).Post("/intents", fundingcontrollers.CreateIntent(svc.Funding, logg))
			r.Get("/bounties/{bountyId}", fundingcontrollers.GetState(svc.Funding, logg))
			r.Post("/bounties/{bountyId}/release", fundingcontrollers.Release(svc.Funding, logg))
			r.Post("/bounties/{bountyId}/cancel", fundingcontrollers.Cancel(svc.Funding, logg))
		})

		r.Route("/payouts", func(r chi.Router) {
			r.Post("/onboarding", payoutcontrollers.Onboarding(svc.Identities, logg))
			r.Delete("/account", payoutcontrollers.Disconnect(svc.Identities, logg))
			r.Get("/balance", payoutcontrollers.Balance(svc.Projector, logg))
			r.Get("/activity", payoutcontrollers.Activity(svc.Projector, logg))
		})
	})

	return r
}
