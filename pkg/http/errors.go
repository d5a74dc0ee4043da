package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Envelope is the gateway's single response shape. Status mirrors the HTTP status.
type Envelope struct {
	OK                bool       `json:"ok"`
	Status            int        `json:"status"`
	Data              any        `json:"data,omitempty"`
	Error             string     `json:"error,omitempty"`   // Machine-readable error code
	Message           string     `json:"message,omitempty"` // Human-readable message
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
	RetryAfterMinutes int        `json:"retryAfterMinutes,omitempty"`
	MFARequired       bool       `json:"mfa_required,omitempty"`
	FactorID          string     `json:"factor_id,omitempty"`
	AAL1AccessToken   string     `json:"aal1_access_token,omitempty"`
}

// WriteEnvelope writes env as JSON using env.Status as the HTTP status
func WriteEnvelope(w http.ResponseWriter, env Envelope) {
	if env.Status == 0 {
		env.Status = http.StatusOK
	}
	env.OK = env.Status >= 200 && env.Status < 300

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if env.RetryAfterMinutes > 0 && env.Status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(env.RetryAfterMinutes*60))
	}
	w.WriteHeader(env.Status)

	// Encoding errors are not reported to the client
	_ = json.NewEncoder(w).Encode(env)
}

// WriteSuccess writes a 200 envelope carrying data
func WriteSuccess(w http.ResponseWriter, data any, message string) {
	WriteEnvelope(w, Envelope{Status: http.StatusOK, Data: data, Message: message})
}

// WriteError writes an error envelope with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteEnvelope(w, Envelope{Status: statusCode, Error: errorCode, Message: message})
}

// Common error writers for consistency
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limited", message)
}

func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "server_error", "An unexpected error occurred")
}
