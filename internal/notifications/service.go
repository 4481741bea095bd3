// Package notifications queues notification triggers for the external
// dispatcher. Delivery happens elsewhere; this side only writes outbox rows
// inside the caller's transaction.
package notifications

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/outbox"
	"github.com/bountyhub/escrow/pkg/outbox/payloads"
)

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines the trigger surface used by funding and plan handlers.
type Service interface {
	Request(ctx context.Context, tx *gorm.DB, req Request) error
}

// Request describes one notification. Bounty notifications aggregate on the
// bounty id; plan notifications aggregate on the plan owner.
type Request struct {
	PrincipalID      uuid.UUID
	PrincipalType    enums.PrincipalType
	Kind             enums.NotificationKind
	BountyID         string
	AmountMinorUnits int64
	Currency         string
}

type service struct {
	outbox emitter
}

func NewService(outbox emitter) (Service, error) {
	if outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	return &service{outbox: outbox}, nil
}

func (s *service) Request(ctx context.Context, tx *gorm.DB, req Request) error {
	if req.PrincipalID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification principal required")
	}
	if !req.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown notification kind")
	}

	event := outbox.DomainEvent{
		EventType: enums.EventNotificationRequested,
		Data: payloads.NotificationRequestedEvent{
			PrincipalID:      req.PrincipalID,
			Kind:             req.Kind,
			BountyID:         strings.TrimSpace(req.BountyID),
			AmountMinorUnits: req.AmountMinorUnits,
			Currency:         req.Currency,
		},
	}
	if bountyID := strings.TrimSpace(req.BountyID); bountyID != "" {
		event.AggregateType = enums.AggregateBounty
		event.AggregateID = bountyID
	} else {
		event.AggregateType = enums.AggregateMembershipPlan
		event.AggregateID = req.PrincipalID.String()
	}
	if req.PrincipalType.IsValid() {
		event.Actor = &outbox.ActorRef{PrincipalID: req.PrincipalID, PrincipalType: req.PrincipalType}
	}
	return s.outbox.Emit(ctx, tx, event)
}
