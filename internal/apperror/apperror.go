// Package apperror defines the domain error taxonomy shared by every layer.
//
// Each failure kind is a sentinel error. Constructors wrap the sentinel in an
// *AppError carrying a human-readable message, so callers classify with
// errors.Is and present with err.Error():
//
//	if errors.Is(err, apperror.ErrCodeExpired) { ... }
//
// Collaborator failures (database down, SMTP outage) are never wrapped in an
// AppError. They stay plain wrapped errors and surface as INTERNAL_ERROR.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrUnauthorized         = errors.New("unauthorized")
	ErrEmailNotVerified     = errors.New("email not verified")
	ErrCredentialsInvalid   = errors.New("credentials invalid")
	ErrCredentialsDuplicate = errors.New("credentials duplicate")
	ErrCodeInvalid          = errors.New("code invalid")
	ErrCodeExpired          = errors.New("code expired")
	ErrCodeNotFound         = errors.New("code not found")
	ErrResendTooSoon        = errors.New("resend too soon")
	ErrMissingPermissions   = errors.New("missing permissions")
)

// codes is the stable, enumerable code for every sentinel. Clients match on
// these strings, so they must never change once published.
var codes = []struct {
	sentinel error
	code     string
}{
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrEmailNotVerified, "EMAIL_NOT_VERIFIED"},
	{ErrCredentialsInvalid, "CREDENTIALS_INVALID"},
	{ErrCredentialsDuplicate, "CREDENTIALS_DUPLICATE"},
	{ErrCodeInvalid, "CODE_INVALID"},
	{ErrCodeExpired, "CODE_EXPIRED"},
	{ErrCodeNotFound, "CODE_NOT_FOUND"},
	{ErrResendTooSoon, "RESEND_TOO_SOON"},
	{ErrMissingPermissions, "MISSING_PERMISSIONS"},
	{ErrValidation, "VALIDATION_ERROR"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrConflict, "CONFLICT"},
	{ErrForbidden, "FORBIDDEN"},
}

// CodeInternal is reported for anything outside the taxonomy.
const CodeInternal = "INTERNAL_ERROR"

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Code returns the stable error code for err. Only errors carrying an
// *AppError are classified; a bare sentinel or a wrapped collaborator error
// reports CodeInternal.
func Code(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return CodeInternal
	}
	for _, c := range codes {
		if errors.Is(appErr.Err, c.sentinel) {
			return c.code
		}
	}
	return CodeInternal
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized covers a missing, malformed, expired or stale token, and a
// token whose subject no longer exists. The message is deliberately the same
// for every cause.
func Unauthorized() *AppError {
	return &AppError{Err: ErrUnauthorized, Message: "authentication required"}
}

func EmailNotVerified() *AppError {
	return &AppError{Err: ErrEmailNotVerified, Message: "email address is not verified"}
}

// CredentialsInvalid is returned both for an unknown email and for a wrong
// password, so responses do not reveal which accounts exist.
func CredentialsInvalid() *AppError {
	return &AppError{Err: ErrCredentialsInvalid, Message: "invalid email or password"}
}

func CredentialsDuplicate() *AppError {
	return &AppError{Err: ErrCredentialsDuplicate, Message: "username or email already taken"}
}

func CodeInvalid() *AppError {
	return &AppError{Err: ErrCodeInvalid, Message: "verification code is invalid"}
}

func CodeExpired() *AppError {
	return &AppError{Err: ErrCodeExpired, Message: "verification code has expired"}
}

func CodeNotFound() *AppError {
	return &AppError{Err: ErrCodeNotFound, Message: "no pending verification code"}
}

func ResendTooSoon() *AppError {
	return &AppError{Err: ErrResendTooSoon, Message: "please wait before requesting another code"}
}

func MissingPermissions() *AppError {
	return &AppError{Err: ErrMissingPermissions, Message: "missing permissions for this action"}
}
