package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/authgate/internal/auth"
	"github.com/BradenHooton/authgate/internal/identity"
	"github.com/BradenHooton/authgate/internal/models"
	"github.com/BradenHooton/authgate/internal/turnstile"
	pkglogger "github.com/BradenHooton/authgate/pkg/logger"
)

// IdentityBackend is the identity backend's account surface
type IdentityBackend interface {
	PasswordGrant(ctx context.Context, email, password string) (*identity.Response, error)
	Signup(ctx context.Context, email, password, username string) (*identity.Response, error)
	Recover(ctx context.Context, email, redirectTo string) (*identity.Response, error)
}

// BotVerifier checks a client's bot-challenge token
type BotVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) turnstile.Result
}

// RequestMeta carries caller details that every action records
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type SignupInput struct {
	Email          string
	Password       string
	Username       string
	TurnstileToken string
}

type LoginInput struct {
	Email          string
	Password       string
	TurnstileToken string
}

type ForgotPasswordInput struct {
	Email          string
	TurnstileToken string
}

type VerifyMFAInput struct {
	AAL1AccessToken string
	FactorID        string
	Code            string
}

// GatewayConfig holds the policy knobs of the pipeline
type GatewayConfig struct {
	// ResetRedirectURL is where the password reset email links to
	ResetRedirectURL string
	LockoutDuration  time.Duration
	Policies         map[models.Action]models.RateLimitPolicy
}

// ForgotPasswordMessage is returned whether or not the account exists
const ForgotPasswordMessage = "If an account exists for that email, a password reset link has been sent."

// GatewayService runs the per-action pipeline: bot check, lockout, rate limit,
// identity backend, step-up. Every method returns either its outcome or a
// *models.GatewayError describing the rendered rejection.
type GatewayService struct {
	identity    IdentityBackend
	bot         BotVerifier
	rateLimiter *RateLimitService
	lockouts    *LockoutService
	mfa         *MFAService
	audit       *AuditService
	timing      *auth.TimingDelay
	config      GatewayConfig
	logger      *slog.Logger
}

// NewGatewayService creates a new GatewayService
func NewGatewayService(
	identityBackend IdentityBackend,
	bot BotVerifier,
	rateLimiter *RateLimitService,
	lockouts *LockoutService,
	mfa *MFAService,
	audit *AuditService,
	timing *auth.TimingDelay,
	config GatewayConfig,
	logger *slog.Logger,
) *GatewayService {
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = models.DefaultLockoutDuration
	}
	policies := make(map[models.Action]models.RateLimitPolicy, len(models.DefaultPolicies))
	for action, p := range models.DefaultPolicies {
		policies[action] = p
	}
	for action, p := range config.Policies {
		policies[action] = p
	}
	config.Policies = policies

	return &GatewayService{
		identity:    identityBackend,
		bot:         bot,
		rateLimiter: rateLimiter,
		lockouts:    lockouts,
		mfa:         mfa,
		audit:       audit,
		timing:      timing,
		config:      config,
		logger:      logger,
	}
}

// Signup registers an account. Locks are disclosed (423).
func (s *GatewayService) Signup(ctx context.Context, in SignupInput, meta RequestMeta) (json.RawMessage, error) {
	email := normalizeEmail(in.Email)

	if err := s.checkBot(ctx, models.ActionSignup, in.TurnstileToken, meta); err != nil {
		return nil, err
	}
	if err := s.checkDisclosedLock(ctx, email); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, models.ActionSignup, email, meta); err != nil {
		return nil, err
	}

	resp, err := s.identity.Signup(ctx, email, in.Password, strings.TrimSpace(in.Username))
	if err != nil {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionSignup, email, meta, models.CodeServerError))
		s.logger.ErrorContext(ctx, "signup request failed", slog.Any("error", err))
		return nil, models.ServerError()
	}
	if resp.Status >= http.StatusInternalServerError {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionSignup, email, meta, models.CodeServerError))
		s.logger.ErrorContext(ctx, "identity backend signup error", slog.Int("status", resp.Status))
		return nil, models.ServerError()
	}
	if !resp.OK {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionSignup, email, meta, models.CodeSignupFailed))

		message := resp.Message()
		if message == "" {
			message = "Signup failed"
		}
		return nil, models.NewGatewayError(models.CodeSignupFailed, message)
	}

	s.audit.RecordAttempt(ctx, succeededAttempt(models.ActionSignup, email, meta, signupUserID(resp)))
	return resp.Body, nil
}

// Login runs the password step. Every failure cause, a lock included, is reported
// as the same invalid_credentials error after the same minimum delay.
func (s *GatewayService) Login(ctx context.Context, in LoginInput, meta RequestMeta) (models.LoginResult, error) {
	start := time.Now()
	email := normalizeEmail(in.Email)
	policy := s.config.Policies[models.ActionLogin]

	if err := s.checkBot(ctx, models.ActionLogin, in.TurnstileToken, meta); err != nil {
		return nil, err
	}

	if status := s.lockouts.IsLocked(ctx, email); status.Locked {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionLogin, email, meta, models.CodeAccountLocked))
		s.timing.WaitFrom(ctx, start)
		return nil, models.InvalidCredentials()
	}

	// Over the limit looks the same as a wrong password
	if result := s.rateLimiter.CheckPolicy(ctx, models.ActionLogin, email, meta.IPAddress, policy); !result.Allowed {
		s.lock(ctx, email, nil, models.LockReasonTooManyLogins)
		s.timing.WaitFrom(ctx, start)
		return nil, models.InvalidCredentials()
	}

	resp, err := s.identity.PasswordGrant(ctx, email, in.Password)
	if err != nil {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionLogin, email, meta, models.CodeServerError))
		s.logger.ErrorContext(ctx, "password grant failed", slog.Any("error", err))
		return nil, models.ServerError()
	}
	if resp.Status >= http.StatusInternalServerError {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionLogin, email, meta, models.CodeServerError))
		s.logger.ErrorContext(ctx, "identity backend password grant error", slog.Int("status", resp.Status))
		return nil, models.ServerError()
	}

	if !resp.OK {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionLogin, email, meta, models.CodeInvalidCredentials))

		// Re-read after the write so the failure that crosses the threshold locks now
		if result := s.rateLimiter.CheckPolicy(ctx, models.ActionLogin, email, meta.IPAddress, policy); !result.Allowed {
			s.lock(ctx, email, nil, models.LockReasonTooManyLogins)
		}

		s.timing.WaitFrom(ctx, start)
		return nil, models.InvalidCredentials()
	}

	session, err := resp.Session()
	if err != nil {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionLogin, email, meta, models.CodeServerError))
		s.logger.ErrorContext(ctx, "invalid session from identity backend", slog.Any("error", err))
		return nil, models.ServerError()
	}

	s.audit.RecordAttempt(ctx, succeededAttempt(models.ActionLogin, email, meta, session.UserID))

	result, err := s.mfa.ResolveLogin(ctx, session)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to resolve step-up", slog.Any("error", err))
		return nil, models.ServerError()
	}

	if _, ok := result.(models.Authenticated); ok {
		s.audit.RecordLoginActivity(ctx, &models.LoginActivity{
			UserID:    session.UserID,
			Email:     email,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Method:    models.LoginMethodPassword,
		})
	}

	return result, nil
}

// ForgotPassword requests a reset email. Success looks the same whether or not
// the account exists.
func (s *GatewayService) ForgotPassword(ctx context.Context, in ForgotPasswordInput, meta RequestMeta) error {
	email := normalizeEmail(in.Email)
	policy := s.config.Policies[models.ActionForgotPassword]

	if err := s.checkBot(ctx, models.ActionForgotPassword, in.TurnstileToken, meta); err != nil {
		return err
	}
	if err := s.checkDisclosedLock(ctx, email); err != nil {
		return err
	}
	if err := s.checkRateLimit(ctx, models.ActionForgotPassword, email, meta); err != nil {
		return err
	}

	resp, err := s.identity.Recover(ctx, email, s.config.ResetRedirectURL)
	if err != nil {
		s.logger.ErrorContext(ctx, "recover request failed", slog.Any("error", err))
		return models.ServerError()
	}

	switch {
	case resp.OK:
		s.audit.RecordAttempt(ctx, succeededAttempt(models.ActionForgotPassword, email, meta, ""))
		return nil
	case resp.Status == http.StatusTooManyRequests:
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionForgotPassword, email, meta, models.CodeRateLimited))
		return models.RateLimited(policy.WindowMinutes())
	default:
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionForgotPassword, email, meta, models.CodeServerError))
		s.logger.ErrorContext(ctx, "identity backend recover error",
			slog.Int("status", resp.Status),
			slog.String("message", resp.Message()))
		return models.ServerError()
	}
}

// VerifyMFA completes a step-up. The AAL1 token is authenticated by the identity
// backend before its owner is used to key the rate limit, record the attempt or
// lock the account. A refused token is limited by IP only and never locks.
func (s *GatewayService) VerifyMFA(ctx context.Context, in VerifyMFAInput, meta RequestMeta) (models.Session, error) {
	if in.AAL1AccessToken == "" {
		return models.Session{}, models.NewGatewayError(models.CodeAAL1TokenRequired, "aal1_access_token is required")
	}
	if in.FactorID == "" {
		return models.Session{}, models.NewGatewayError(models.CodeFactorIDRequired, "factor_id is required")
	}
	if !ValidMFACode(in.Code) {
		return models.Session{}, models.NewGatewayError(models.CodeInvalidCodeFormat, "code must be 6 digits")
	}

	policy := s.config.Policies[models.ActionVerifyMFA]

	token, err := s.mfa.AuthenticateToken(ctx, in.AAL1AccessToken)
	if err != nil {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionVerifyMFA, "", meta, models.CodeServerError))
		s.logger.ErrorContext(ctx, "failed to authenticate aal1 token", slog.Any("error", err))
		return models.Session{}, models.ServerError()
	}
	if token.Owner == nil {
		if result := s.rateLimiter.CheckPolicy(ctx, models.ActionVerifyMFA, "", meta.IPAddress, policy); !result.Allowed {
			return models.Session{}, models.RateLimited(policy.WindowMinutes())
		}
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionVerifyMFA, "", meta, models.CodeMFAVerificationFailed))
		return models.Session{}, mfaFailed(token.Message)
	}

	email := normalizeEmail(token.Owner.Email)
	userID := token.Owner.ID

	if result := s.rateLimiter.CheckPolicy(ctx, models.ActionVerifyMFA, email, meta.IPAddress, policy); !result.Allowed {
		s.lock(ctx, email, &userID, models.LockReasonTooManyMFAAttempt)
		return models.Session{}, models.RateLimited(policy.WindowMinutes())
	}

	verification, err := s.mfa.VerifyStepUp(ctx, in.AAL1AccessToken, in.FactorID, in.Code)
	if err != nil {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionVerifyMFA, email, meta, models.CodeServerError))
		s.logger.ErrorContext(ctx, "step-up verification failed", slog.Any("error", err))
		return models.Session{}, models.ServerError()
	}

	if !verification.Verified {
		s.audit.RecordAttempt(ctx, failedAttempt(models.ActionVerifyMFA, email, meta, models.CodeMFAVerificationFailed))
		return models.Session{}, mfaFailed(verification.Message)
	}

	session := verification.Session
	if session.UserID == "" {
		session.UserID = userID
	}

	s.audit.RecordAttempt(ctx, succeededAttempt(models.ActionVerifyMFA, email, meta, session.UserID))
	s.audit.RecordLoginActivity(ctx, &models.LoginActivity{
		UserID:    session.UserID,
		Email:     email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Method:    models.LoginMethodPasswordMFA,
	})

	return session, nil
}

func mfaFailed(message string) *models.GatewayError {
	if message == "" {
		message = "Invalid verification code"
	}
	return models.NewGatewayError(models.CodeMFAVerificationFailed, message)
}

func (s *GatewayService) checkBot(ctx context.Context, action models.Action, token string, meta RequestMeta) error {
	result := s.bot.Verify(ctx, token, meta.IPAddress)
	if result.OK {
		return nil
	}

	s.logger.WarnContext(ctx, "bot verification rejected",
		slog.String("action", string(action)),
		slog.String("ip_address", meta.IPAddress),
		slog.String("details", result.Details))

	gerr := models.NewGatewayError(models.CodeTurnstileFailed, "Bot verification failed")
	gerr.Details = result.Details
	return gerr
}

// checkDisclosedLock reports an active lock as 423, for actions that may reveal it
func (s *GatewayService) checkDisclosedLock(ctx context.Context, email string) error {
	status := s.lockouts.IsLocked(ctx, email)
	if !status.Locked {
		return nil
	}
	return models.AccountLocked(*status.LockedUntil, time.Now())
}

func (s *GatewayService) checkRateLimit(ctx context.Context, action models.Action, email string, meta RequestMeta) error {
	policy := s.config.Policies[action]
	if result := s.rateLimiter.CheckPolicy(ctx, action, email, meta.IPAddress, policy); !result.Allowed {
		return models.RateLimited(policy.WindowMinutes())
	}
	return nil
}

// lock creates a lock and logs on failure. The caller's response does not change
// when the write fails.
func (s *GatewayService) lock(ctx context.Context, email string, userID *string, reason string) {
	if email == "" {
		return
	}
	if _, err := s.lockouts.Lock(ctx, email, userID, reason, s.config.LockoutDuration); err != nil {
		s.logger.ErrorContext(ctx, "failed to lock account",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.String("reason", reason),
			slog.Any("error", err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// signupUserID finds the new account id in either reply shape: a bare user
// object, or a session with a nested user when autoconfirm is on
func signupUserID(resp *identity.Response) string {
	if id, ok := resp.Data["id"].(string); ok {
		return id
	}
	if user, ok := resp.Data["user"].(map[string]any); ok {
		if id, ok := user["id"].(string); ok {
			return id
		}
	}
	return ""
}
