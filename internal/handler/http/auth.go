package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/internal/identity"
	"github.com/hamletsspeak/812Hamur/internal/session"
	"github.com/hamletsspeak/812Hamur/pkg/httputil"
	"github.com/hamletsspeak/812Hamur/pkg/validator"
)

// AuthHandler handles HTTP requests for auth and session endpoints.
type AuthHandler struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(sessions *session.Manager, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, logger: logger}
}

// --- Request DTOs ---

// CredentialsRequest is the JSON request body for email/password sign-up and
// sign-in.
type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SocialSignInRequest is the JSON request body for social sign-in.
type SocialSignInRequest struct {
	Provider  string `json:"provider" validate:"required"`
	Assertion string `json:"assertion" validate:"required"`
}

// UpdatePasswordRequest is the JSON request body for a password change.
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// --- Response types ---

// SessionView is the JSON representation of an active session.
type SessionView struct {
	UserID      string     `json:"user_id"`
	Email       string     `json:"email,omitempty"`
	IsAnonymous bool       `json:"is_anonymous"`
	AuthMethod  string     `json:"auth_method"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// AuthResponse wraps the established session with its bearer token.
type AuthResponse struct {
	Session      SessionView `json:"session"`
	Token        string      `json:"token"`
	IsNewAccount bool        `json:"is_new_account"`
}

func sessionView(s domain.Session) SessionView {
	v := SessionView{
		UserID:      s.UserID,
		Email:       s.Email,
		IsAnonymous: s.IsAnonymous,
		AuthMethod:  string(s.AuthMethod),
		CreatedAt:   s.CreatedAt,
	}
	if !s.LastLoginAt.IsZero() {
		t := s.LastLoginAt
		v.LastLoginAt = &t
	}
	return v
}

func authResponse(res *identity.Result) AuthResponse {
	return AuthResponse{
		Session:      sessionView(res.Session),
		Token:        res.Token,
		IsNewAccount: res.IsNewAccount,
	}
}

// --- Handlers ---

// SignUp handles POST /api/v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	res, err := h.sessions.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: authResponse(res)})
}

// SignIn handles POST /api/v1/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	res, err := h.sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: authResponse(res)})
}

// SignInWithSocial handles POST /api/v1/auth/social
func (h *AuthHandler) SignInWithSocial(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SocialSignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.sessions.SignInWithSocial(r.Context(), req.Provider, req.Assertion)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: authResponse(res)})
}

// SignInAnonymously handles POST /api/v1/auth/anonymous
func (h *AuthHandler) SignInAnonymously(w http.ResponseWriter, r *http.Request) {
	res, err := h.sessions.SignInAnonymously(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: authResponse(res)})
}

// CurrentSession handles GET /api/v1/session
func (h *AuthHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sessionView(*s)})
}

// SignOut handles POST /api/v1/session/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSession(w, r, h.sessions, h.logger); !ok {
		return
	}

	if err := h.sessions.SignOut(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "signed_out"}})
}

// UpdatePassword handles POST /api/v1/session/password
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSession(w, r, h.sessions, h.logger); !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req UpdatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.sessions.UpdatePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "password_updated"}})
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (CredentialsRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return CredentialsRequest{}, false
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return CredentialsRequest{}, false
	}
	return req, true
}
