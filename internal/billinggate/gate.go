// Package billinggate turns an authenticated session into the organization
// that pays for it.
package billinggate

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bountyhub/escrow/internal/identity"
	pkgauth "github.com/bountyhub/escrow/pkg/auth"
	"github.com/bountyhub/escrow/pkg/db"
	"github.com/bountyhub/escrow/pkg/db/models"
	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
	"github.com/bountyhub/escrow/pkg/logger"
)

// Session is what the gate needs from an access token. ActiveOrgID is the
// client's claim and is never trusted without a membership check.
type Session struct {
	UserID      uuid.UUID
	ActiveOrgID *uuid.UUID
}

// SessionFromClaims adapts verified JWT claims.
func SessionFromClaims(claims *pkgauth.AccessTokenClaims) *Session {
	if claims == nil {
		return nil
	}
	return &Session{UserID: claims.UserID, ActiveOrgID: claims.ActiveOrgID}
}

type membershipStore interface {
	IsActiveMember(ctx context.Context, userID, orgID uuid.UUID) (bool, error)
	GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)
}

type Gate struct {
	store membershipStore
	logg  *logger.Logger
}

func NewGate(store membershipStore, logg *logger.Logger) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("membership store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Gate{store: store, logg: logg}, nil
}

// Identify returns the organization billing principal for session, or nil
// when there is none. A rejected org claim is audited, not surfaced.
func (g *Gate) Identify(ctx context.Context, session *Session) (*identity.Principal, error) {
	if session == nil || session.UserID == uuid.Nil {
		return nil, nil
	}
	if session.ActiveOrgID == nil || *session.ActiveOrgID == uuid.Nil {
		return nil, nil
	}
	orgID := *session.ActiveOrgID

	member, err := g.store.IsActiveMember(ctx, session.UserID, orgID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "billing identity unavailable")
	}
	if !member {
		g.reject(ctx, session.UserID, orgID, "not an active member")
		return nil, nil
	}

	org, err := g.store.GetOrganization(ctx, orgID)
	if err != nil {
		if db.IsNotFound(err) {
			g.reject(ctx, session.UserID, orgID, "organization missing")
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "billing identity unavailable")
	}

	return &identity.Principal{
		ID:    org.ID,
		Type:  enums.PrincipalOrganization,
		Email: org.BillingEmail,
	}, nil
}

func (g *Gate) reject(ctx context.Context, userID, orgID uuid.UUID, reason string) {
	ctx = g.logg.WithFields(ctx, map[string]any{
		"user_id":         userID.String(),
		"organization_id": orgID.String(),
		"reason":          reason,
	})
	g.logg.Warn(ctx, "billing.identity_rejected")
}
