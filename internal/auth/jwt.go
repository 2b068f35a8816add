// Package auth provides credential hashing, bearer token issuance and
// validation, and the HTTP identity middleware.
//
// TOKEN MODEL:
// A token is an HS256 JWT with three claims that matter:
//
//	sub  - the user's numeric id
//	cred - a keyed fingerprint of the user's password hash at issue time
//	exp  - expiry
//
// The server stores no sessions. A password change produces a new hash, the
// fingerprint of the new hash no longer equals the one embedded in old
// tokens, and every old token stops resolving to an identity. The codec
// only verifies signature/structure/expiry; comparing the fingerprint with
// the current stored hash is the caller's job (see MatchesCredential).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "foxochat"

	// MinSecretLength is the shortest accepted signing secret, in bytes.
	MinSecretLength = 32
)

// ErrInvalidToken is returned for any token that fails verification. The
// wrapped cause is for logs only.
var ErrInvalidToken = errors.New("auth: invalid token")

// TokenService handles JWT creation and validation.
//
// The secret is set once at construction and never changes for the life of
// the process; replacing it invalidates every outstanding token.
type TokenService struct {
	secret   []byte
	credKey  []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewTokenService creates a TokenService signing with secret and issuing
// tokens valid for lifetime.
func NewTokenService(secret string, lifetime time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	if lifetime <= 0 {
		return nil, errors.New("auth: token lifetime must be positive")
	}

	// The fingerprint key is derived from the secret so the embedded
	// fingerprint cannot be computed, or checked offline, without it.
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("credential-fingerprint"))

	return &TokenService{
		secret:   []byte(secret),
		credKey:  mac.Sum(nil),
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// Claims is the verified content of a token.
type Claims struct {
	UserID     int64
	Credential string // fingerprint of the password hash at issue time
	ExpiresAt  time.Time
}

type claims struct {
	Credential string `json:"cred"`
	jwt.RegisteredClaims
}

// Issue signs a token for userID bound to the given password hash.
func (s *TokenService) Issue(userID int64, passwordHash string) (string, error) {
	now := s.now()

	c := claims{
		Credential: s.fingerprint(passwordHash),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify parses and verifies a token. It fails with ErrInvalidToken when the
// signature does not verify, the token is malformed, uses another algorithm
// or issuer, lacks a numeric subject or credential, or exp has passed
// (exp itself is already expired).
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	if c.Credential == "" {
		return nil, fmt.Errorf("%w: missing credential", ErrInvalidToken)
	}

	return &Claims{
		UserID:     userID,
		Credential: c.Credential,
		ExpiresAt:  c.ExpiresAt.Time,
	}, nil
}

// MatchesCredential reports whether the token was issued against
// currentHash. A false result means the password changed since issue and
// the token must be treated as revoked.
func (s *TokenService) MatchesCredential(c *Claims, currentHash string) bool {
	if c == nil || currentHash == "" {
		return false
	}
	return hmac.Equal([]byte(c.Credential), []byte(s.fingerprint(currentHash)))
}

// Lifetime is how long issued tokens stay valid.
func (s *TokenService) Lifetime() time.Duration {
	return s.lifetime
}

func (s *TokenService) fingerprint(passwordHash string) string {
	mac := hmac.New(sha256.New, s.credKey)
	mac.Write([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
