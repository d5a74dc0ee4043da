package models

import (
	"fmt"
	"time"
)

// Action identifies a gateway endpoint. It is also the attempt log's partition key
// for rate limiting.
type Action string

const (
	ActionSignup         Action = "signup"
	ActionLogin          Action = "login"
	ActionForgotPassword Action = "forgot-password"
	ActionVerifyMFA      Action = "verify-mfa"
)

// ParseAction returns the Action for a path segment
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionSignup, ActionLogin, ActionForgotPassword, ActionVerifyMFA:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// LoginAttempt represents a single credentialed gateway decision. Rows are never updated.
type LoginAttempt struct {
	ID            string    `db:"id"`
	Action        Action    `db:"action"`
	Email         string    `db:"email"`
	IPAddress     string    `db:"ip_address"`
	UserAgent     string    `db:"user_agent"`
	Success       bool      `db:"success"`
	UserID        *string   `db:"user_id"`
	FailureReason *string   `db:"failure_reason"`
	AttemptedAt   time.Time `db:"attempted_at"`
}

// RateLimitPolicy is a sliding window threshold for one action
type RateLimitPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

// WindowMinutes is the policy window in whole minutes
func (p RateLimitPolicy) WindowMinutes() int {
	return int(p.Window / time.Minute)
}

// DefaultPolicies are the per-action rate limits
var DefaultPolicies = map[Action]RateLimitPolicy{
	ActionLogin:          {MaxAttempts: 5, Window: 15 * time.Minute},
	ActionSignup:         {MaxAttempts: 3, Window: 60 * time.Minute},
	ActionForgotPassword: {MaxAttempts: 3, Window: 60 * time.Minute},
	ActionVerifyMFA:      {MaxAttempts: 5, Window: 15 * time.Minute},
}

// DefaultLockoutDuration applies when a login or verify-mfa threshold is crossed
const DefaultLockoutDuration = 30 * time.Minute
