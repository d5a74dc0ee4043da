package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/authgate/internal/models"
	"github.com/BradenHooton/authgate/internal/turnstile"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory attempt, lockout and activity store for tests.
// It implements AttemptCounter, AttemptRecorder, LockoutRepository and ActivityRecorder.
type MemoryStore struct {
	mu       sync.Mutex
	Attempts []models.LoginAttempt
	Locks    []models.AccountLockout
	Activity []models.LoginActivity

	// Err, when set, is returned by every method
	Err error
	// ReadErr, when set, is returned by the read methods only
	ReadErr error

	CountCalls int
	ClearCalls int
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	m.Attempts = append(m.Attempts, *attempt)
	return nil
}

func (m *MemoryStore) CountRecentFailures(ctx context.Context, action models.Action, email, ipAddress string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CountCalls++
	if m.Err != nil {
		return 0, m.Err
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}

	count := 0
	for _, a := range m.Attempts {
		if a.Action != action || a.Success || a.AttemptedAt.Before(since) {
			continue
		}
		if (email != "" && a.Email == email) || (ipAddress != "" && a.IPAddress == ipAddress) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) GetActiveLock(ctx context.Context, email string) (*models.AccountLockout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}

	var latest *models.AccountLockout
	for i := range m.Locks {
		l := &m.Locks[i]
		if l.Email != email || !l.IsLocked {
			continue
		}
		if latest == nil || !l.CreatedAt.Before(latest.CreatedAt) {
			latest = l
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	found := *latest
	return &found, nil
}

func (m *MemoryStore) CreateLock(ctx context.Context, lock *models.AccountLockout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if lock.ID == "" {
		lock.ID = uuid.New().String()
	}
	if lock.CreatedAt.IsZero() {
		lock.CreatedAt = time.Now().UTC()
	}
	lock.IsLocked = true
	m.Locks = append(m.Locks, *lock)
	return nil
}

func (m *MemoryStore) ClearLock(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ClearCalls++
	if m.Err != nil {
		return m.Err
	}
	for i := range m.Locks {
		if m.Locks[i].ID == id && m.Locks[i].IsLocked {
			m.Locks[i].IsLocked = false
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MemoryStore) RecordActivity(ctx context.Context, activity *models.LoginActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	m.Activity = append(m.Activity, *activity)
	return nil
}

// AttemptsFor returns recorded attempts for action in insertion order
func (m *MemoryStore) AttemptsFor(action models.Action) []models.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.LoginAttempt
	for _, a := range m.Attempts {
		if a.Action == action {
			out = append(out, a)
		}
	}
	return out
}

// LocksFor returns every lock row for email, newest first
func (m *MemoryStore) LocksFor(email string) []models.AccountLockout {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AccountLockout
	for _, l := range m.Locks {
		if l.Email == email {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ActivityCount returns the number of login_activity rows
func (m *MemoryStore) ActivityCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Activity)
}

// StaticBotVerifier returns the same result for every token and counts calls
type StaticBotVerifier struct {
	mu     sync.Mutex
	Result turnstile.Result
	Calls  int
}

// AllowBots returns a verifier that accepts every token
func AllowBots() *StaticBotVerifier {
	return &StaticBotVerifier{Result: turnstile.Result{OK: true}}
}

// RejectBots returns a verifier that rejects every token
func RejectBots(details string) *StaticBotVerifier {
	return &StaticBotVerifier{Result: turnstile.Result{Error: turnstile.ErrorCode, Details: details}}
}

func (v *StaticBotVerifier) Verify(ctx context.Context, token, remoteIP string) turnstile.Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls++
	return v.Result
}

// MockLockoutNotifier records notifications
type MockLockoutNotifier struct {
	mu     sync.Mutex
	Emails []string
	Err    error
	sent   chan struct{}
}

// NewMockLockoutNotifier creates a notifier whose Sent channel fires per notification
func NewMockLockoutNotifier() *MockLockoutNotifier {
	return &MockLockoutNotifier{sent: make(chan struct{}, 16)}
}

func (m *MockLockoutNotifier) NotifyLocked(ctx context.Context, email string, lockedUntil time.Time) error {
	m.mu.Lock()
	m.Emails = append(m.Emails, email)
	m.mu.Unlock()

	select {
	case m.sent <- struct{}{}:
	default:
	}
	return m.Err
}

// Sent fires once per notification
func (m *MockLockoutNotifier) Sent() <-chan struct{} {
	return m.sent
}
