package middleware

import (
	"net/http"
	"strings"

	"github.com/bountyhub/escrow/api/responses"
	"github.com/bountyhub/escrow/internal/billinggate"
	pkgauth "github.com/bountyhub/escrow/pkg/auth"
	"github.com/bountyhub/escrow/pkg/auth/session"
	"github.com/bountyhub/escrow/pkg/config"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the
// session it describes. The active org in the token is only a hint; the
// billing gate verifies it.
func Auth(cfg config.JWTConfig, verifier session.AccessSessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if claims.ID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session id"))
				return
			}

			if verifier != nil {
				ok, err := verifier.HasSession(r.Context(), claims.ID)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session"))
					return
				}
				if !ok {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "session unavailable"))
					return
				}
			}

			ctx := WithSession(r.Context(), billinggate.SessionFromClaims(claims))
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
				if claims.ActiveOrgID != nil {
					ctx = logg.WithField(ctx, "requested_org_id", claims.ActiveOrgID.String())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	token := strings.TrimSpace(header)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
