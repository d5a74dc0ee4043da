package handlers

import (
	"errors"
	"fmt"

	"github.com/BradenHooton/authgate/internal/models"
	"github.com/BradenHooton/authgate/internal/services"
	"github.com/go-playground/validator/v10"
)

// Global validator instance (reused across all handlers)
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// otpcode accepts exactly six ASCII digits
	_ = v.RegisterValidation("otpcode", func(fl validator.FieldLevel) bool {
		return services.ValidMFACode(fl.Field().String())
	})
	return v
}

// fieldCodes maps a DTO field to the error code reported when it fails validation
var fieldCodes = map[string]string{
	"Email":           models.CodeEmailRequired,
	"Password":        models.CodePasswordRequired,
	"TurnstileToken":  models.CodeTurnstileRequired,
	"AAL1AccessToken": models.CodeAAL1TokenRequired,
	"FactorID":        models.CodeFactorIDRequired,
	"Code":            models.CodeInvalidCodeFormat,
}

// ValidateRequest validates a request struct using go-playground/validator.
// A failure is returned as a *models.GatewayError carrying the first failing
// field's error code.
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return models.NewGatewayError(models.CodeInvalidRequest, "Invalid request body")
	}

	fe := ve[0]
	return models.NewGatewayError(errorCode(fe), formatValidationError(fe))
}

// errorCode picks the field's own code for a missing or malformed value and
// invalid_request for anything else, such as an oversized one
func errorCode(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "otpcode":
		if code, ok := fieldCodes[fe.StructField()]; ok {
			return code
		}
	}
	return models.CodeInvalidRequest
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	field := jsonFieldNames[fe.StructField()]
	if field == "" {
		field = fe.Field()
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must have a maximum of %s characters", field, fe.Param())
	case "otpcode":
		return fmt.Sprintf("%s must be 6 digits", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

var jsonFieldNames = map[string]string{
	"Email":           "email",
	"Password":        "password",
	"Username":        "username",
	"TurnstileToken":  "turnstileToken",
	"AAL1AccessToken": "aal1_access_token",
	"FactorID":        "factor_id",
	"Code":            "code",
}
