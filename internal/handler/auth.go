package handler

import (
	"log/slog"
	"net/http"

	"github.com/foxochat/chat-core/internal/apperror"
	"github.com/foxochat/chat-core/internal/auth"
	"github.com/foxochat/chat-core/internal/service"
)

// AuthHandler exposes registration, login, the current user, and the
// email-confirmation and password-reset flows.
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// Fail writes err in the standard error format. It doubles as the
// auth.ErrorWriter for RequireAuth.
func (h *AuthHandler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, h.logger, err)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister handles POST /auth/register.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	res, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, TokenResponse{AccessToken: res.Token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin handles POST /auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: res.Token})
}

// HandleMe handles GET /users/@me. Requires RequireAuth.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.Fail(w, r, apperror.Unauthorized())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type confirmEmailRequest struct {
	Code string `json:"code"`
}

// HandleConfirmEmail handles POST /users/@me/email/verify. Requires
// RequireAuth without the verified-email gate.
func (h *AuthHandler) HandleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.Fail(w, r, apperror.Unauthorized())
		return
	}

	var req confirmEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	updated, err := h.auth.ConfirmEmail(r.Context(), user, req.Code)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// HandleVerifyLink handles GET /verify?code=...&token=..., the auto-login
// link from verification emails. The token arrives raw, without "Bearer ".
func (h *AuthHandler) HandleVerifyLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	user, err := h.auth.ResolveIdentity(r.Context(), q.Get("token"), auth.FromLink, false)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	updated, err := h.auth.ConfirmEmail(r.Context(), user, q.Get("code"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// HandleResendEmail handles POST /users/@me/email/resend. The resent email
// links with the token the request was made with.
func (h *AuthHandler) HandleResendEmail(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.Fail(w, r, apperror.Unauthorized())
		return
	}

	if err := h.auth.ResendVerification(r.Context(), user, auth.TokenFromContext(r.Context())); err != nil {
		h.Fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}

// HandleResetPassword handles POST /auth/reset-password.
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.Fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type confirmResetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// HandleConfirmResetPassword handles POST /auth/reset-password/confirm.
func (h *AuthHandler) HandleConfirmResetPassword(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	if err := h.auth.ConfirmPasswordReset(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		h.Fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
