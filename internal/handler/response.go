package handler

// RESPONSE HELPERS:
// Every error response has the same shape:
//
//	{"error": "CODE_EXPIRED", "message": "verification code has expired"}
//
// "error" is the stable code from apperror.Code, which clients switch on.
// "message" is for humans. Errors outside the taxonomy become a generic 500
// and their text is only logged, never sent.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/foxochat/chat-core/internal/apperror"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 16

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// TokenResponse carries a freshly issued access token.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation),
		errors.Is(err, apperror.ErrCodeInvalid),
		errors.Is(err, apperror.ErrCodeExpired):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized),
		errors.Is(err, apperror.ErrCredentialsInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden),
		errors.Is(err, apperror.ErrEmailNotVerified),
		errors.Is(err, apperror.ErrMissingPermissions):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound),
		errors.Is(err, apperror.ErrCodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict),
		errors.Is(err, apperror.ErrCredentialsDuplicate):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrResendTooSoon):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// WriteError maps err to a status and the standard error body. Anything
// that is not an *apperror.AppError is logged and answered with a generic
// 500.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || apperror.Code(err) == apperror.CodeInternal {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   apperror.CodeInternal,
			Message: "An internal error occurred",
		})
		return
	}

	writeJSON(w, StatusFor(err), ErrorResponse{
		Error:   apperror.Code(err),
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a JSON body into dst. A malformed body is a validation
// error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
