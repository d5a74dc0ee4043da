// Package identitytest provides an in-process fake of the identity backend's auth API
// for tests: password grant, signup, recovery, factor listing, challenge and verify
// with real TOTP codes.
package identitytest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/authgate/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
)

// AnonKey is the API key the fake expects on every request
const AnonKey = "test-anon-key"

var signingKey = []byte("identitytest-signing-key-0123456789")

type factor struct {
	id     string
	secret string
	status string
}

type user struct {
	id       string
	email    string
	password string
	factors  []*factor
}

type challenge struct {
	factorID string
	userID   string
	expires  time.Time
}

// Server is a fake identity backend
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	users      map[string]*user
	challenges map[string]*challenge
	calls      map[string]int
	recoveries []string
	failStatus int
}

// NewServer starts a fake identity backend. It is closed by t.Cleanup in callers.
func NewServer() *Server {
	s := &Server{
		users:      make(map[string]*user),
		challenges: make(map[string]*challenge),
		calls:      make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(s.countCalls)
	r.Use(s.requireAPIKey)
	r.Post("/auth/v1/token", s.handleToken)
	r.Post("/auth/v1/signup", s.handleSignup)
	r.Post("/auth/v1/recover", s.handleRecover)
	r.Get("/auth/v1/user", s.handleUser)
	r.Post("/auth/v1/factors/{factorID}/challenge", s.handleChallenge)
	r.Post("/auth/v1/factors/{factorID}/verify", s.handleVerify)

	s.Server = httptest.NewServer(r)
	return s
}

// AddUser registers an account and returns its id
func (s *Server) AddUser(email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.users[strings.ToLower(email)] = &user{id: id, email: strings.ToLower(email), password: password}
	return id
}

// EnrollTOTP attaches a verified TOTP factor to the account and returns the factor id
func (s *Server) EnrollTOTP(email string) string {
	return s.enroll(email, models.FactorStatusVerified)
}

// EnrollPendingTOTP attaches an unverified TOTP factor
func (s *Server) EnrollPendingTOTP(email string) string {
	return s.enroll(email, models.FactorStatusPending)
}

func (s *Server) enroll(email, status string) string {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "authgate-test", AccountName: email})
	if err != nil {
		panic(fmt.Sprintf("identitytest: generate totp: %v", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		panic("identitytest: unknown user " + email)
	}
	f := &factor{id: uuid.New().String(), secret: key.Secret(), status: status}
	u.factors = append(u.factors, f)
	return f.id
}

// CurrentCode returns the valid TOTP code for a factor right now
func (s *Server) CurrentCode(factorID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		for _, f := range u.factors {
			if f.id == factorID {
				code, err := totp.GenerateCode(f.secret, time.Now())
				if err != nil {
					panic(fmt.Sprintf("identitytest: generate code: %v", err))
				}
				return code
			}
		}
	}
	panic("identitytest: unknown factor " + factorID)
}

// WrongCode returns a well-formed code guaranteed not to match right now
func (s *Server) WrongCode(factorID string) string {
	code := s.CurrentCode(factorID)
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

// FailWith makes every endpoint answer with status until reset with 0
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// Calls reports how many requests hit a path (without query string)
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// TotalCalls reports how many requests the fake served
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Recoveries lists the redirect targets of password recovery requests
func (s *Server) Recoveries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recoveries...)
}

// IssueToken mints an access token the fake will accept
func (s *Server) IssueToken(userID, email, aal string) string {
	return signToken(signingKey, userID, email, aal)
}

// ForgeToken returns a well-formed token with the given claims that the server
// will refuse, because it is signed with a key the server does not hold
func (s *Server) ForgeToken(userID, email, aal string) string {
	return signToken([]byte("not-the-identitytest-signing-key"), userID, email, aal)
}

func signToken(key []byte, userID, email, aal string) string {
	claims := models.TokenClaims{
		Email:     email,
		AAL:       aal,
		SessionID: uuid.New().String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		panic(fmt.Sprintf("identitytest: sign token: %v", err))
	}
	return signed
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		fail := s.failStatus
		s.mu.Unlock()

		if fail != 0 {
			writeJSON(w, fail, map[string]string{"msg": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != AnonKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "No API key found in request"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("grant_type") != "password" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(body.Email)]
	s.mu.Unlock()

	if !ok || u.password != body.Password {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
		return
	}

	writeJSON(w, http.StatusOK, s.sessionBody(u, models.AAL1))
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string            `json:"email"`
		Password string            `json:"password"`
		Data     map[string]string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "invalid body"})
		return
	}
	if len(body.Password) < 6 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"msg": "Password should be at least 6 characters"})
		return
	}

	s.mu.Lock()
	_, exists := s.users[strings.ToLower(body.Email)]
	s.mu.Unlock()
	if exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"msg": "User already registered"})
		return
	}

	id := s.AddUser(body.Email, body.Password)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            id,
		"email":         strings.ToLower(body.Email),
		"user_metadata": body.Data,
	})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.recoveries = append(s.recoveries, r.URL.Query().Get("redirect_to"))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	u, _, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": err.Error()})
		return
	}

	s.mu.Lock()
	factors := make([]map[string]string, 0, len(u.factors))
	for _, f := range u.factors {
		factors = append(factors, map[string]string{
			"id":          f.id,
			"factor_type": models.FactorTypeTOTP,
			"status":      f.status,
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"id": u.id, "email": u.email, "factors": factors})
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	u, _, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": err.Error()})
		return
	}

	factorID := chi.URLParam(r, "factorID")
	if s.findFactor(u, factorID) == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"msg": "Factor not found"})
		return
	}

	id := uuid.New().String()
	expires := time.Now().Add(5 * time.Minute)

	s.mu.Lock()
	s.challenges[id] = &challenge{factorID: factorID, userID: u.id, expires: expires}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "type": models.FactorTypeTOTP, "expires_at": expires.Unix()})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	u, _, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": err.Error()})
		return
	}

	var body struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "invalid body"})
		return
	}

	factorID := chi.URLParam(r, "factorID")

	s.mu.Lock()
	c, ok := s.challenges[body.ChallengeID]
	delete(s.challenges, body.ChallengeID)
	s.mu.Unlock()

	if !ok || c.factorID != factorID || c.userID != u.id || time.Now().After(c.expires) {
		writeJSON(w, http.StatusNotFound, map[string]string{"msg": "Challenge not found"})
		return
	}

	f := s.findFactor(u, factorID)
	if f == nil || !totp.Validate(body.Code, f.secret) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"msg": "Invalid TOTP code entered"})
		return
	}

	s.mu.Lock()
	f.status = models.FactorStatusVerified
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, s.sessionBody(u, models.AAL2))
}

func (s *Server) authenticate(r *http.Request) (*user, *models.TokenClaims, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := &models.TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, nil, errors.New("invalid JWT")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.id == claims.Subject {
			return u, claims, nil
		}
	}
	return nil, nil, errors.New("user not found")
}

func (s *Server) findFactor(u *user, factorID string) *factor {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range u.factors {
		if f.id == factorID {
			return f
		}
	}
	return nil
}

func (s *Server) sessionBody(u *user, aal string) map[string]any {
	return map[string]any{
		"access_token":  s.IssueToken(u.id, u.email, aal),
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": uuid.New().String(),
		"user":          map[string]any{"id": u.id, "email": u.email},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
