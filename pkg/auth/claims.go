package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID      uuid.UUID
	ActiveOrgID *uuid.UUID
	JTI         string
}

// AccessTokenClaims represents the typed JWT issued by the identity service.
// ActiveOrgID is a client-selected hint; membership is verified server side.
type AccessTokenClaims struct {
	UserID      uuid.UUID  `json:"user_id"`
	ActiveOrgID *uuid.UUID `json:"active_org_id,omitempty"`
	jwt.RegisteredClaims
}
