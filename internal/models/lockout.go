package models

import "time"

// Lockout reasons
const (
	LockReasonTooManyLogins     = "too_many_failed_logins"
	LockReasonTooManyMFAAttempt = "too_many_mfa_attempts"
)

// AccountLockout is one lock record. Multiple rows may exist per email; only the
// most recent row with IsLocked=true is authoritative.
type AccountLockout struct {
	ID          string    `db:"id"`
	Email       string    `db:"email"`
	UserID      *string   `db:"user_id"`
	Reason      string    `db:"reason"`
	LockedUntil time.Time `db:"locked_until"`
	IsLocked    bool      `db:"is_locked"`
	CreatedAt   time.Time `db:"created_at"`
}

// Expired reports whether the lock has passed its locked_until time
func (l *AccountLockout) Expired(now time.Time) bool {
	return !l.LockedUntil.After(now)
}

// LockStatus is the Lockout Manager's answer for an email
type LockStatus struct {
	Locked      bool
	LockedUntil *time.Time
	Reason      string
}

// Login activity methods
const (
	LoginMethodPassword    = "password"
	LoginMethodPasswordMFA = "password_mfa"
)

// LoginActivity is the audit trail of fully authenticated logins
type LoginActivity struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Email     string    `db:"email"`
	IPAddress string    `db:"ip_address"`
	UserAgent string    `db:"user_agent"`
	Method    string    `db:"method"`
	CreatedAt time.Time `db:"created_at"`
}
