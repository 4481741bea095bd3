package middleware

import (
	"context"
	"net/http"

	"github.com/bountyhub/escrow/api/responses"
	"github.com/bountyhub/escrow/internal/billinggate"
	"github.com/bountyhub/escrow/internal/identity"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/logger"
)

type principalResolver interface {
	Identify(ctx context.Context, s *billinggate.Session) (*identity.Principal, error)
}

// BillingPrincipal admits only sessions the gate maps to a billing principal.
// Rejections are generic so callers cannot probe org existence or membership.
func BillingPrincipal(gate principalResolver, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if gate == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing gate unavailable"))
				return
			}
			sess := SessionFromContext(ctx)
			if sess == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			principal, err := gate.Identify(ctx, sess)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if principal == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "forbidden"))
				return
			}

			ctx = WithPrincipal(ctx, *principal)
			if logg != nil {
				ctx = logg.WithPrincipal(ctx, principal.ID.String(), string(principal.Type))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
