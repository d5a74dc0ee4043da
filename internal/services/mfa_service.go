package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/BradenHooton/authgate/internal/identity"
	"github.com/BradenHooton/authgate/internal/models"
)

var mfaCodePattern = regexp.MustCompile(`^\d{6}$`)

// ValidMFACode reports whether code is exactly six ASCII digits
func ValidMFACode(code string) bool {
	return mfaCodePattern.MatchString(code)
}

// FactorBackend is the part of the identity backend the step-up flow needs
type FactorBackend interface {
	GetUser(ctx context.Context, accessToken string) (*identity.User, *identity.Response, error)
	ListFactors(ctx context.Context, accessToken string) ([]models.AuthFactor, error)
	CreateChallenge(ctx context.Context, accessToken, factorID string) (*models.Challenge, *identity.Response, error)
	VerifyChallenge(ctx context.Context, accessToken, factorID, challengeID, code string) (*identity.Response, error)
}

// StepUpVerification is the result of a challenge+verify round trip.
// Session is set only when Verified is true.
type StepUpVerification struct {
	Verified bool
	Session  models.Session
	Message  string
}

// MFAService coordinates the password → TOTP step-up. The identity backend owns the
// factors and elevates its own session; this service decides what the caller sees.
type MFAService struct {
	backend FactorBackend
	logger  *slog.Logger
}

// NewMFAService creates a new MFA service
func NewMFAService(backend FactorBackend, logger *slog.Logger) *MFAService {
	return &MFAService{
		backend: backend,
		logger:  logger,
	}
}

// TokenOwner is the account an access token belongs to. Owner is nil when the
// backend refused the token; Message then carries its reason.
type TokenOwner struct {
	Owner   *identity.User
	Message string
}

// AuthenticateToken has the identity backend check accessToken's signature and
// expiry. Claims read from the token must not be trusted before this succeeds.
func (s *MFAService) AuthenticateToken(ctx context.Context, accessToken string) (*TokenOwner, error) {
	user, rejected, err := s.backend.GetUser(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to look up token owner: %w", err)
	}
	if user == nil {
		if rejected.Status >= 500 {
			return nil, fmt.Errorf("user lookup returned status %d: %w", rejected.Status, models.ErrUpstream)
		}
		return &TokenOwner{Message: rejected.Message()}, nil
	}
	return &TokenOwner{Owner: user}, nil
}

// ListVerifiedTOTPFactors returns the caller's verified TOTP factors in backend order
func (s *MFAService) ListVerifiedTOTPFactors(ctx context.Context, accessToken string) ([]models.AuthFactor, error) {
	factors, err := s.backend.ListFactors(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list factors: %w", err)
	}

	verified := make([]models.AuthFactor, 0, len(factors))
	for _, f := range factors {
		if f.IsVerifiedTOTP() {
			verified = append(verified, f)
		}
	}
	return verified, nil
}

// ResolveLogin decides the outcome after a successful password grant. With no
// verified TOTP factor the session is returned whole; otherwise only the access
// token survives, as an AAL1 token for the step-up request.
func (s *MFAService) ResolveLogin(ctx context.Context, session models.Session) (models.LoginResult, error) {
	factors, err := s.ListVerifiedTOTPFactors(ctx, session.AccessToken)
	if err != nil {
		return nil, err
	}

	if len(factors) == 0 {
		return models.Authenticated{Session: session}, nil
	}

	s.logger.DebugContext(ctx, "step-up required",
		slog.String("user_id", session.UserID),
		slog.Int("verified_factors", len(factors)))

	return models.StepUpRequired{
		UserID:          session.UserID,
		FactorID:        factors[0].ID,
		AAL1AccessToken: session.AccessToken,
	}, nil
}

// VerifyStepUp opens a challenge for factorID and submits code, both authorized by
// the caller's AAL1 token. A 4xx rejection is a non-verified result; transport
// failures and 5xx replies are returned as errors.
func (s *MFAService) VerifyStepUp(ctx context.Context, aal1Token, factorID, code string) (*StepUpVerification, error) {
	challenge, rejected, err := s.backend.CreateChallenge(ctx, aal1Token, factorID)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}
	if challenge == nil {
		if rejected.Status >= 500 {
			return nil, fmt.Errorf("challenge returned status %d: %w", rejected.Status, models.ErrUpstream)
		}
		return &StepUpVerification{Message: rejected.Message()}, nil
	}

	resp, err := s.backend.VerifyChallenge(ctx, aal1Token, factorID, challenge.ID, code)
	if err != nil {
		return nil, fmt.Errorf("failed to verify challenge: %w", err)
	}
	if resp.Status >= 500 {
		return nil, fmt.Errorf("verify returned status %d: %w", resp.Status, models.ErrUpstream)
	}
	if !resp.OK {
		return &StepUpVerification{Message: resp.Message()}, nil
	}

	session, err := resp.Session()
	if err != nil {
		return nil, err
	}
	return &StepUpVerification{Verified: true, Session: session}, nil
}
