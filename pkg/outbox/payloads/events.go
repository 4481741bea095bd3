package payloads

import (
	"github.com/google/uuid"

	"github.com/bountyhub/escrow/pkg/enums"
)

// NotificationRequestedEvent asks the external dispatcher to notify a principal.
// Delivery, templates and preferences live outside this service.
type NotificationRequestedEvent struct {
	PrincipalID      uuid.UUID              `json:"principalId"`
	Kind             enums.NotificationKind `json:"kind"`
	BountyID         string                 `json:"bountyId,omitempty"`
	AmountMinorUnits int64                  `json:"amount,omitempty"`
	Currency         string                 `json:"currency,omitempty"`
}
