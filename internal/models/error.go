package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Upstream collaborator errors
	ErrUpstream        = errors.New("upstream service error")
	ErrUpstreamTimeout = errors.New("upstream service timeout")
	ErrMalformedToken  = errors.New("malformed token")
)

// Error codes rendered in the gateway response envelope
const (
	CodeInvalidRequest        = "invalid_request"
	CodeEmailRequired         = "email_required"
	CodePasswordRequired      = "password_required"
	CodeTurnstileRequired     = "turnstile_required"
	CodeAAL1TokenRequired     = "aal1_token_required"
	CodeFactorIDRequired      = "factor_id_required"
	CodeInvalidCodeFormat     = "invalid_code_format"
	CodeInvalidCredentials    = "invalid_credentials"
	CodeMFAVerificationFailed = "mfa_verification_failed"
	CodeTurnstileFailed       = "turnstile_failed"
	CodeUnknownAction         = "unknown_action"
	CodeNotFound              = "not_found"
	CodeAccountLocked         = "account_locked"
	CodeRateLimited           = "rate_limited"
	CodeSignupFailed          = "signup_failed"
	CodeServerError           = "server_error"
)

// GatewayError is a terminal pipeline outcome that is rendered to the caller.
// Code determines the HTTP status; see handlers.statusForCode.
type GatewayError struct {
	Code              string
	Message           string
	Details           string
	LockedUntil       *time.Time
	RetryAfterMinutes int
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewGatewayError creates a GatewayError with the given code and message
func NewGatewayError(code, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

// InvalidCredentials is the single response used for every login failure cause.
func InvalidCredentials() *GatewayError {
	return NewGatewayError(CodeInvalidCredentials, "Invalid email or password")
}

// ServerError hides internal detail from the caller.
func ServerError() *GatewayError {
	return NewGatewayError(CodeServerError, "An unexpected error occurred")
}

// RateLimited builds a rate limit rejection carrying the retry hint.
func RateLimited(retryAfterMinutes int) *GatewayError {
	return &GatewayError{
		Code:              CodeRateLimited,
		Message:           "Too many attempts. Please try again later.",
		RetryAfterMinutes: retryAfterMinutes,
	}
}

// AccountLocked builds a disclosed lockout rejection.
func AccountLocked(lockedUntil time.Time, now time.Time) *GatewayError {
	until := lockedUntil
	return &GatewayError{
		Code:              CodeAccountLocked,
		Message:           "This account is temporarily locked. Please try again later.",
		LockedUntil:       &until,
		RetryAfterMinutes: MinutesUntil(lockedUntil, now),
	}
}

// MinutesUntil rounds the remaining time up to whole minutes, minimum 1.
func MinutesUntil(t, now time.Time) int {
	remaining := t.Sub(now)
	if remaining <= 0 {
		return 1
	}
	minutes := int(remaining / time.Minute)
	if remaining%time.Minute != 0 {
		minutes++
	}
	return minutes
}
