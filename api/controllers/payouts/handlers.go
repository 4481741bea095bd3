// Package payouts serves payout onboarding and the read-only balance views.
package payouts

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bountyhub/escrow/api/middleware"
	"github.com/bountyhub/escrow/api/responses"
	"github.com/bountyhub/escrow/api/validators"
	"github.com/bountyhub/escrow/internal/identity"
	"github.com/bountyhub/escrow/internal/processor"
	"github.com/bountyhub/escrow/internal/projector"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/logger"
	"github.com/bountyhub/escrow/pkg/pagination"
)

const maxActivityPage = 1000

type IdentityService interface {
	CreateOnboardingLink(ctx context.Context, principal identity.Principal) (*processor.OnboardingLink, error)
	DisconnectPayoutAccount(ctx context.Context, principalID uuid.UUID) error
}

type ProjectorService interface {
	GetBalance(ctx context.Context, principal identity.Principal) (*projector.Balance, error)
	GetActivity(ctx context.Context, principal identity.Principal, page, limit int) (*projector.ActivityPage, error)
}

type onboardingRequest struct {
	PrincipalID string `json:"principalId" validate:"required,uuid"`
}

type onboardingResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func Onboarding(svc IdentityService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "identity service unavailable"))
			return
		}
		principal, ok := middleware.PrincipalFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "forbidden"))
			return
		}
		var req onboardingRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		claimed, err := uuid.Parse(strings.TrimSpace(req.PrincipalID))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid principalId"))
			return
		}
		if claimed != principal.ID {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdentityMismatch, "principal does not match billing identity"))
			return
		}

		link, err := svc.CreateOnboardingLink(ctx, principal)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, onboardingResponse{URL: link.URL, ExpiresAt: link.ExpiresAt.UTC()})
	}
}

// Disconnect forgets the principal's payout account. Held funds are unaffected.
func Disconnect(svc IdentityService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "identity service unavailable"))
			return
		}
		principal, ok := middleware.PrincipalFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "forbidden"))
			return
		}
		if err := svc.DisconnectPayoutAccount(ctx, principal.ID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "disconnected"})
	}
}

func Balance(svc ProjectorService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "projector unavailable"))
			return
		}
		principal, ok := middleware.PrincipalFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "forbidden"))
			return
		}
		balance, err := svc.GetBalance(ctx, principal)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

func Activity(svc ProjectorService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "projector unavailable"))
			return
		}
		principal, ok := middleware.PrincipalFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "forbidden"))
			return
		}
		page, err := validators.ParseQueryInt(r, "page", 1, 1, maxActivityPage)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out, err := svc.GetActivity(ctx, principal, page, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}
