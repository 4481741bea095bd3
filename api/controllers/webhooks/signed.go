// Package webhooks receives processor deliveries. Every delivery is answered
// 200 once it has been applied, deduplicated or deliberately ignored; any
// failure to apply answers 500 so the processor redelivers.
package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bountyhub/escrow/api/responses"
	webhooksvc "github.com/bountyhub/escrow/internal/webhooks"
	"github.com/bountyhub/escrow/pkg/config"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/logger"
)

type Reconciler interface {
	HandleSigned(ctx context.Context, body []byte, signature string) (webhooksvc.Outcome, error)
	HandleStripe(ctx context.Context, body []byte, signature string) (webhooksvc.Outcome, error)
}

type outcomeResponse struct {
	Outcome string `json:"outcome"`
}

type applyFunc func(Reconciler, context.Context, []byte, string) (webhooksvc.Outcome, error)

// SignedWebhook accepts X-Signature deliveries.
func SignedWebhook(svc Reconciler, cfg config.WebhookConfig, logg *logger.Logger) http.HandlerFunc {
	return handle(svc, cfg, logg, webhooksvc.SignatureHeader, Reconciler.HandleSigned)
}

func handle(svc Reconciler, cfg config.WebhookConfig, logg *logger.Logger, header string, apply applyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook reconciler unavailable"))
			return
		}

		body := r.Body
		if cfg.MaxBodyBytes > 0 {
			body = http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes)
		}
		payload, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read webhook body"))
			return
		}

		if cfg.HandleTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.HandleTimeout)
			defer cancel()
		}

		started := time.Now()
		outcome, err := apply(svc, ctx, payload, r.Header.Get(header))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Debug(logg.WithFields(r.Context(), map[string]any{
				"outcome":     string(outcome),
				"duration_ms": time.Since(started).Milliseconds(),
			}), "webhook.responded")
		}
		responses.WriteSuccess(w, outcomeResponse{Outcome: string(outcome)})
	}
}
