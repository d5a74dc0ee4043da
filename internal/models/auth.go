package models

import "github.com/golang-jwt/jwt/v5"

// Authentication assurance levels carried in the identity backend's access tokens
const (
	AAL1 = "aal1"
	AAL2 = "aal2"
)

// TokenClaims is the subset of identity backend access token claims the gateway reads.
// The gateway never trusts these for authorization; they key rate limits and logs only.
type TokenClaims struct {
	Email     string `json:"email,omitempty"`
	AAL       string `json:"aal,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}
