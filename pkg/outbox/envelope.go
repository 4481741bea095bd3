package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bountyhub/escrow/pkg/enums"
)

// ActorRef identifies the principal whose action produced the event.
type ActorRef struct {
	PrincipalID   uuid.UUID           `json:"principalId"`
	PrincipalType enums.PrincipalType `json:"principalType,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
