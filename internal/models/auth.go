package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types
const (
	TokenTypeAccess = "access"
)

// Roles
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// TokenClaims are the claims of a session-bound access token.
// The JWT ID is the session id, so revoking the session revokes the token.
type TokenClaims struct {
	Type      string `json:"type"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}
