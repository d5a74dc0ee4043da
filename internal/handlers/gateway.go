package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/authgate/internal/middleware"
	"github.com/BradenHooton/authgate/internal/models"
	"github.com/BradenHooton/authgate/internal/services"
	pkghttp "github.com/BradenHooton/authgate/pkg/http"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps a gateway request body
const maxBodyBytes = 64 << 10

// GatewayServiceInterface defines the interface for gateway business logic
type GatewayServiceInterface interface {
	Signup(ctx context.Context, in services.SignupInput, meta services.RequestMeta) (json.RawMessage, error)
	Login(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (models.LoginResult, error)
	ForgotPassword(ctx context.Context, in services.ForgotPasswordInput, meta services.RequestMeta) error
	VerifyMFA(ctx context.Context, in services.VerifyMFAInput, meta services.RequestMeta) (models.Session, error)
}

// GatewayHandler serves POST /auth-gateway/{action}
type GatewayHandler struct {
	service GatewayServiceInterface
	logger  *slog.Logger
}

// NewGatewayHandler creates a new GatewayHandler
func NewGatewayHandler(service GatewayServiceInterface, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		service: service,
		logger:  logger,
	}
}

// Dispatch routes a request to its action by the {action} URL parameter
// @Summary Auth gateway
// @Accept json
// @Param action path string true "signup | login | forgot-password | verify-mfa"
// @Produce json
// @Router /auth-gateway/{action} [post]
func (h *GatewayHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	action, err := models.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		pkghttp.WriteError(w, http.StatusNotFound, models.CodeUnknownAction, "Unknown action")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	switch action {
	case models.ActionSignup:
		h.Signup(w, r)
	case models.ActionLogin:
		h.Login(w, r)
	case models.ActionForgotPassword:
		h.ForgotPassword(w, r)
	case models.ActionVerifyMFA:
		h.VerifyMFA(w, r)
	}
}

// Signup handles account registration
func (h *GatewayHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.normalize()

	if err := ValidateRequest(req); err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	data, err := h.service.Signup(r.Context(), services.SignupInput{
		Email:          req.Email,
		Password:       req.Password,
		Username:       req.Username,
		TurnstileToken: req.TurnstileToken,
	}, requestMeta(r))
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	pkghttp.WriteSuccess(w, data, "")
}

// Login handles the password step. With a verified TOTP factor enrolled the reply
// carries only the AAL1 access token and the factor to challenge.
func (h *GatewayHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.normalize()

	if err := ValidateRequest(req); err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:          req.Email,
		Password:       req.Password,
		TurnstileToken: req.TurnstileToken,
	}, requestMeta(r))
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	switch res := result.(type) {
	case models.Authenticated:
		pkghttp.WriteSuccess(w, res.Session.Body, "")
	case models.StepUpRequired:
		pkghttp.WriteEnvelope(w, pkghttp.Envelope{
			Status:          http.StatusOK,
			Message:         "Multi-factor verification required",
			MFARequired:     true,
			FactorID:        res.FactorID,
			AAL1AccessToken: res.AAL1AccessToken,
		})
	default:
		h.logger.ErrorContext(r.Context(), "unexpected login result", slog.Any("type", result))
		pkghttp.WriteInternalError(w)
	}
}

// ForgotPassword handles password reset requests
func (h *GatewayHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.normalize()

	if err := ValidateRequest(req); err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	err := h.service.ForgotPassword(r.Context(), services.ForgotPasswordInput{
		Email:          req.Email,
		TurnstileToken: req.TurnstileToken,
	}, requestMeta(r))
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	pkghttp.WriteSuccess(w, nil, services.ForgotPasswordMessage)
}

// VerifyMFA completes a TOTP step-up and returns the full session
func (h *GatewayHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if !h.decode(w, r, &req) {
		return
	}
	req.normalize()

	if err := ValidateRequest(req); err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	session, err := h.service.VerifyMFA(r.Context(), services.VerifyMFAInput{
		AAL1AccessToken: req.AAL1AccessToken,
		FactorID:        req.FactorID,
		Code:            req.Code,
	}, requestMeta(r))
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	pkghttp.WriteSuccess(w, session.Body, "")
}

// decode reads the JSON body into dst. An empty body decodes as {} so that missing
// fields are reported by validation.
func (h *GatewayHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	pkghttp.WriteError(w, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request body")
	return false
}

// writeGatewayError renders a pipeline rejection. Anything that is not a
// *models.GatewayError is logged and hidden behind server_error.
func (h *GatewayHandler) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	var gerr *models.GatewayError
	if !errors.As(err, &gerr) {
		h.logger.ErrorContext(r.Context(), "unhandled gateway error", slog.Any("error", err))
		pkghttp.WriteInternalError(w)
		return
	}

	pkghttp.WriteEnvelope(w, pkghttp.Envelope{
		Status:            statusForCode(gerr.Code),
		Error:             gerr.Code,
		Message:           gerr.Message,
		LockedUntil:       gerr.LockedUntil,
		RetryAfterMinutes: gerr.RetryAfterMinutes,
	})
}

// statusForCode maps an error code to its HTTP status
func statusForCode(code string) int {
	switch code {
	case models.CodeInvalidRequest,
		models.CodeEmailRequired,
		models.CodePasswordRequired,
		models.CodeTurnstileRequired,
		models.CodeAAL1TokenRequired,
		models.CodeFactorIDRequired,
		models.CodeInvalidCodeFormat,
		models.CodeSignupFailed:
		return http.StatusBadRequest
	case models.CodeInvalidCredentials, models.CodeMFAVerificationFailed:
		return http.StatusUnauthorized
	case models.CodeTurnstileFailed:
		return http.StatusForbidden
	case models.CodeUnknownAction, models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeAccountLocked:
		return http.StatusLocked
	case models.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func requestMeta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: middleware.ClientIPFromRequest(r),
		UserAgent: pkghttp.UserAgent(r),
	}
}
