package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/foxochat/chat-core/internal/apperror"
	"github.com/foxochat/chat-core/internal/auth"
)

// Validation limits, in characters.
const (
	MinFieldLength       = 4
	MaxUsernameLength    = 32
	MaxEmailLength       = 64
	MaxPasswordLength    = auth.MaxPasswordLength
	MaxChannelNameLength = 16
	MaxDisplayNameLength = 32
)

var (
	namePattern  = regexp.MustCompile(`^[_a-z0-9-.]+$`)
	emailPattern = regexp.MustCompile(`^[_A-Za-z0-9-+]+(\.[_A-Za-z0-9-]+)*@[A-Za-z0-9-]+(\.[A-Za-z0-9]+)*(\.[A-Za-z]{2,})$`)
)

// normalizeUsername lower-cases and trims a username. Validation runs on the
// normalized value.
func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validateLength(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n < min || n > max {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be between %d and %d characters", field, min, max))
	}
	return nil
}

func validateUsername(username string) error {
	if err := validateLength("username", username, MinFieldLength, MaxUsernameLength); err != nil {
		return err
	}
	if !namePattern.MatchString(username) {
		return apperror.ValidationFailed("username",
			"username may only contain lowercase letters, digits, '_', '-' and '.'")
	}
	return nil
}

func validateEmail(email string) error {
	if err := validateLength("email", email, MinFieldLength, MaxEmailLength); err != nil {
		return err
	}
	if !emailPattern.MatchString(email) {
		return apperror.ValidationFailed("email", "email address is not valid")
	}
	return nil
}

func validatePassword(field, password string) error {
	return validateLength(field, password, MinFieldLength, MaxPasswordLength)
}

func validateChannelName(name string) error {
	if err := validateLength("name", name, MinFieldLength, MaxChannelNameLength); err != nil {
		return err
	}
	if !namePattern.MatchString(name) {
		return apperror.ValidationFailed("name",
			"channel name may only contain lowercase letters, digits, '_', '-' and '.'")
	}
	return nil
}

func validateDisplayName(name string) error {
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return apperror.ValidationFailed("displayName",
			fmt.Sprintf("display name must be %d characters or fewer", MaxDisplayNameLength))
	}
	return nil
}
