// Passwords are hashed with bcrypt. bcrypt generates a random salt per hash,
// embeds salt and cost in its output, and compares in constant time.
//
// PRE-HASHING:
// bcrypt only looks at the first 72 bytes of its input, while passwords may be
// up to MaxPasswordLength characters (up to 512 bytes of UTF-8). Every
// password is therefore reduced to base64(SHA-256(password)), 44 bytes, before
// it reaches bcrypt. Two passwords sharing a 72-byte prefix still hash
// differently.
//
// Hash format (the stored digest):
//
//	$2a$12$<22-char salt><31-char hash>

package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor (~250ms on a modern server).
const defaultCost = 12

// MaxPasswordLength is the longest accepted password, in characters.
const MaxPasswordLength = 128

// PasswordService provides bcrypt hashing and verification.
//
// It's a struct (not free functions) so that the cost can be injected
// in tests.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with a custom bcrypt
// cost. Use cost 4 (the minimum) in tests in other packages.
//
// Do NOT use in production: cost 4 is far too weak.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash returns a salted bcrypt digest of plaintext. The empty password is
// accepted here; length policy belongs to the caller's validation.
//
// Returns an error if plaintext exceeds MaxPasswordLength characters.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if utf8.RuneCountInString(plaintext) > MaxPasswordLength {
		return "", fmt.Errorf("auth: password must be %d characters or fewer", MaxPasswordLength)
	}

	hashed, err := bcrypt.GenerateFromPassword(prehash(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify reports whether plaintext matches digest.
//
// It never fails loudly: a malformed or empty digest, or an over-long
// password, is simply "no match". The comparison inside bcrypt is constant
// time.
//
// Usage:
//
//	if !ps.Verify(inputPassword, user.PasswordHash) {
//	    // wrong password
//	}
func (p *PasswordService) Verify(plaintext, digest string) bool {
	if digest == "" || utf8.RuneCountInString(plaintext) > MaxPasswordLength {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), prehash(plaintext)) == nil
}

func prehash(plaintext string) []byte {
	sum := sha256.Sum256([]byte(plaintext))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}
