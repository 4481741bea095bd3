// Package funding exposes bounty escrow funding over HTTP.
package funding

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bountyhub/escrow/api/middleware"
	"github.com/bountyhub/escrow/api/responses"
	"github.com/bountyhub/escrow/api/validators"
	fundingsvc "github.com/bountyhub/escrow/internal/funding"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/logger"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxBountyIDLength = 128
)

// FundingService is the slice of the funding manager used by the HTTP layer.
type FundingService interface {
	CreateFundingIntent(ctx context.Context, input fundingsvc.CreateIntentInput) (*fundingsvc.IntentResult, error)
	ReleaseToSolver(ctx context.Context, input fundingsvc.ReleaseInput) (*models.Settlement, error)
	CancelFunding(ctx context.Context, input fundingsvc.CancelInput) (*models.Settlement, error)
	GetFundingState(ctx context.Context, bountyID string) (enums.FundingState, error)
}

type createIntentRequest struct {
	BountyID    string `json:"bountyId" validate:"required"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency" validate:"required"`
	PrincipalID string `json:"principalId" validate:"required,uuid"`
}

type releaseRequest struct {
	SolverPrincipalID string `json:"solverPrincipalId" validate:"required,uuid"`
	Amount            int64  `json:"amount"`
}

type stateResponse struct {
	BountyID string `json:"bountyId"`
	State    string `json:"state"`
}

type settlementResponse struct {
	ID           string    `json:"id"`
	BountyID     string    `json:"bountyId"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	ProcessorRef string    `json:"processorRef,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateIntent opens a funding intent for the billing principal on the request.
func CreateIntent(svc FundingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		principal, ok := middleware.PrincipalFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "forbidden"))
			return
		}

		var req createIntentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := matchPrincipal(principal.ID, req.PrincipalID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		bountyID, err := cleanBountyID(req.BountyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.CreateFundingIntent(ctx, fundingsvc.CreateIntentInput{
			BountyID:         bountyID,
			AmountMinorUnits: req.Amount,
			Currency:         req.Currency,
			Principal:        principal,
			Nonce:            strings.TrimSpace(r.Header.Get(idempotencyHeader)),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func GetState(svc FundingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		bountyID, err := cleanBountyID(chi.URLParam(r, "bountyId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		state, err := svc.GetFundingState(ctx, bountyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, stateResponse{BountyID: bountyID, State: string(state)})
	}
}

// Release pays the full held amount out to the solver. Only the funder may release.
func Release(svc FundingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		principal, ok := middleware.PrincipalFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "forbidden"))
			return
		}
		bountyID, err := cleanBountyID(chi.URLParam(r, "bountyId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req releaseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		solverID, err := uuid.Parse(req.SolverPrincipalID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid solverPrincipalId"))
			return
		}

		settlement, err := svc.ReleaseToSolver(ctx, fundingsvc.ReleaseInput{
			BountyID:          bountyID,
			CallerPrincipalID: principal.ID,
			SolverPrincipalID: solverID,
			AmountMinorUnits:  req.Amount,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSettlementResponse(settlement))
	}
}

func Cancel(svc FundingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}
		principal, ok := middleware.PrincipalFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "forbidden"))
			return
		}
		bountyID, err := cleanBountyID(chi.URLParam(r, "bountyId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		settlement, err := svc.CancelFunding(ctx, fundingsvc.CancelInput{BountyID: bountyID, CallerPrincipalID: principal.ID})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSettlementResponse(settlement))
	}
}

// matchPrincipal rejects a body principal that differs from the gate's.
func matchPrincipal(gate uuid.UUID, raw string) error {
	claimed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid principalId")
	}
	if claimed != gate {
		return pkgerrors.New(pkgerrors.CodeIdentityMismatch, "principal does not match billing identity")
	}
	return nil
}

func cleanBountyID(raw string) (string, error) {
	id := validators.SanitizeString(raw, 0)
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "bountyId is required")
	}
	if len(id) > maxBountyIDLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "bountyId too long").
			WithDetails(map[string]any{"max": maxBountyIDLength})
	}
	return id, nil
}

func toSettlementResponse(s *models.Settlement) settlementResponse {
	if s == nil {
		return settlementResponse{}
	}
	out := settlementResponse{
		ID:        s.ID.String(),
		BountyID:  s.BountyID,
		Kind:      string(s.Kind),
		Status:    string(s.Status),
		Amount:    s.AmountMinorUnits,
		Currency:  s.Currency,
		CreatedAt: s.CreatedAt.UTC(),
	}
	if s.ProcessorRef != nil {
		out.ProcessorRef = *s.ProcessorRef
	}
	return out
}
