package models

import (
	"encoding/json"
	"time"
)

// Factor types and statuses reported by the identity backend
const (
	FactorTypeTOTP       = "totp"
	FactorStatusVerified = "verified"
	FactorStatusPending  = "unverified"
)

// AuthFactor is a read-only view of a second factor enrolled with the identity backend
type AuthFactor struct {
	ID           string `json:"id"`
	FactorType   string `json:"factor_type"`
	Status       string `json:"status"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// IsVerifiedTOTP reports whether the factor can be used for step-up
func (f AuthFactor) IsVerifiedTOTP() bool {
	return f.FactorType == FactorTypeTOTP && f.Status == FactorStatusVerified
}

// Challenge is issued by the identity backend and consumed by exactly one verify call
type Challenge struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

// ExpiresAtTime converts the unix expiry into a time.Time
func (c Challenge) ExpiresAtTime() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// Session is a fully authorized (AAL2 or MFA-less) session. Body holds the identity
// backend's response verbatim so it can be forwarded unchanged.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Body         json.RawMessage
}

// LoginResult is the outcome of a successful password step. It is either
// Authenticated or StepUpRequired.
type LoginResult interface {
	isLoginResult()
}

// Authenticated carries a full session
type Authenticated struct {
	Session Session
}

// StepUpRequired withholds the session until a TOTP code is verified. It holds an
// access-only AAL1 token and no refresh token.
type StepUpRequired struct {
	UserID          string
	FactorID        string
	AAL1AccessToken string
}

func (Authenticated) isLoginResult()  {}
func (StepUpRequired) isLoginResult() {}
