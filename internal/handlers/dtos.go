package handlers

import "strings"

// Request DTOs. Field order matters: when several fields are missing, the first
// failing field decides the reported error code.

// SignupRequest represents the request body for signup
type SignupRequest struct {
	Email          string `json:"email" validate:"required,max=320"`
	Password       string `json:"password" validate:"required,max=1024"`
	Username       string `json:"username,omitempty" validate:"omitempty,max=64"`
	TurnstileToken string `json:"turnstileToken" validate:"required"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email          string `json:"email" validate:"required,max=320"`
	Password       string `json:"password" validate:"required,max=1024"`
	TurnstileToken string `json:"turnstileToken" validate:"required"`
}

// ForgotPasswordRequest represents the request body for forgot-password
type ForgotPasswordRequest struct {
	Email          string `json:"email" validate:"required,max=320"`
	TurnstileToken string `json:"turnstileToken" validate:"required"`
}

// VerifyMFARequest represents the request body for verify-mfa
type VerifyMFARequest struct {
	AAL1AccessToken string `json:"aal1_access_token" validate:"required"`
	FactorID        string `json:"factor_id" validate:"required"`
	Code            string `json:"code" validate:"required,otpcode"`
}

func (r *SignupRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	r.TurnstileToken = strings.TrimSpace(r.TurnstileToken)
}

func (r *LoginRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.TurnstileToken = strings.TrimSpace(r.TurnstileToken)
}

func (r *ForgotPasswordRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.TurnstileToken = strings.TrimSpace(r.TurnstileToken)
}

func (r *VerifyMFARequest) normalize() {
	r.AAL1AccessToken = strings.TrimSpace(r.AAL1AccessToken)
	r.FactorID = strings.TrimSpace(r.FactorID)
}
