package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/bountyhub/escrow/internal/billinggate"
	"github.com/bountyhub/escrow/internal/identity"
)

type contextKey string

const (
	ctxUserID    contextKey = "user_id"
	ctxSession   contextKey = "billing_session"
	ctxPrincipal contextKey = "billing_principal"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// SessionFromContext returns the token-derived session seeded by Auth.
func SessionFromContext(ctx context.Context) *billinggate.Session {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxSession).(*billinggate.Session); ok {
		return v
	}
	return nil
}

// PrincipalFromContext returns the billing principal admitted by BillingPrincipal.
func PrincipalFromContext(ctx context.Context) (identity.Principal, bool) {
	if ctx == nil {
		return identity.Principal{}, false
	}
	p, ok := ctx.Value(ctxPrincipal).(identity.Principal)
	if !ok || p.ID == uuid.Nil {
		return identity.Principal{}, false
	}
	return p, true
}

// WithSession injects a session, mainly for handler tests.
func WithSession(ctx context.Context, s *billinggate.Session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if s != nil {
		ctx = context.WithValue(ctx, ctxUserID, s.UserID.String())
	}
	return context.WithValue(ctx, ctxSession, s)
}

// WithPrincipal injects the billing principal for downstream handlers.
func WithPrincipal(ctx context.Context, p identity.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, p)
}
