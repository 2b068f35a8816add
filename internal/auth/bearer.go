package auth

import (
	"fmt"
	"strings"
)

// TokenSource says where a token value came from, which decides whether it
// must carry the "Bearer " scheme.
type TokenSource int

const (
	// FromHeader is an Authorization header value: "Bearer <token>".
	FromHeader TokenSource = iota
	// FromLink is a raw token, as embedded in verification email links.
	FromLink
)

const bearerScheme = "Bearer "

// ExtractToken normalizes value for verification. A header value without
// the scheme is rejected, and so is a link value that has one.
func ExtractToken(value string, src TokenSource) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%w: missing token", ErrInvalidToken)
	}

	prefixed := len(value) >= len(bearerScheme) && strings.EqualFold(value[:len(bearerScheme)], bearerScheme)

	var token string
	switch src {
	case FromHeader:
		if !prefixed {
			return "", fmt.Errorf("%w: expected bearer scheme", ErrInvalidToken)
		}
		token = strings.TrimSpace(value[len(bearerScheme):])
	case FromLink:
		if prefixed {
			return "", fmt.Errorf("%w: unexpected bearer scheme", ErrInvalidToken)
		}
		token = value
	default:
		return "", fmt.Errorf("%w: unknown token source", ErrInvalidToken)
	}

	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", fmt.Errorf("%w: malformed token", ErrInvalidToken)
	}
	return token, nil
}
