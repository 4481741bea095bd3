package webhooks

import (
	"net/http"

	webhooksvc "github.com/bountyhub/escrow/internal/webhooks"
	"github.com/bountyhub/escrow/pkg/config"
	"github.com/bountyhub/escrow/pkg/logger"
)

// StripeWebhook accepts native Stripe events and applies them through the
// same reconciler path as signed deliveries.
func StripeWebhook(svc Reconciler, cfg config.WebhookConfig, logg *logger.Logger) http.HandlerFunc {
	return handle(svc, cfg, logg, webhooksvc.StripeSignatureHeader, Reconciler.HandleStripe)
}
