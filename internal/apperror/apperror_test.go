package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("channel", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("email", "email is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "CodeExpired wraps ErrCodeExpired",
			err:       CodeExpired(),
			target:    ErrCodeExpired,
			wantMatch: true,
		},
		{
			name:      "CodeExpired does NOT match ErrCodeInvalid",
			err:       CodeExpired(),
			target:    ErrCodeInvalid,
			wantMatch: false,
		},
		{
			name:      "wrapped MissingPermissions still matches",
			err:       fmt.Errorf("editing channel: %w", MissingPermissions()),
			target:    ErrMissingPermissions,
			wantMatch: true,
		},
		{
			name:      "Unauthorized does NOT match ErrEmailNotVerified",
			err:       Unauthorized(),
			target:    ErrEmailNotVerified,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("channel", "abc123"),
			wantMessage: "channel not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("username", "username is required"),
			wantMessage: "username is required",
		},
		{
			name:        "CredentialsInvalid does not say which part was wrong",
			err:         CredentialsInvalid(),
			wantMessage: "invalid email or password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Unauthorized(), "UNAUTHORIZED"},
		{EmailNotVerified(), "EMAIL_NOT_VERIFIED"},
		{CredentialsInvalid(), "CREDENTIALS_INVALID"},
		{CredentialsDuplicate(), "CREDENTIALS_DUPLICATE"},
		{CodeInvalid(), "CODE_INVALID"},
		{CodeExpired(), "CODE_EXPIRED"},
		{CodeNotFound(), "CODE_NOT_FOUND"},
		{ResendTooSoon(), "RESEND_TOO_SOON"},
		{MissingPermissions(), "MISSING_PERMISSIONS"},
		{ValidationFailed("name", "bad"), "VALIDATION_ERROR"},
		{fmt.Errorf("confirming: %w", CodeExpired()), "CODE_EXPIRED"},
		{errors.New("smtp: connection refused"), CodeInternal},
		{fmt.Errorf("sending: %w", ErrCodeInvalid), CodeInternal},
		{nil, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("channel", "abc123")
	unwrapped := err.Unwrap()

	if unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("email", "invalid email format")

	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
}
