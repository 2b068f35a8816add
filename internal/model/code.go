package model

import "time"

// CodePurpose tags what a verification code unlocks. Codes are stored per
// (user, purpose), so an email confirmation and a password reset in flight
// for the same user never supersede each other.
type CodePurpose string

const (
	PurposeEmailVerify   CodePurpose = "email_verify"
	PurposePasswordReset CodePurpose = "password_reset"
)

func (p CodePurpose) Valid() bool {
	return p == PurposeEmailVerify || p == PurposePasswordReset
}

// VerificationCode is a one-time 6-digit code delivered by email.
//
// A code is live while IssuedAt <= now < ExpiresAt. SentAt is the last time
// the code was handed to the mailer; it starts equal to IssuedAt and drives
// the resend throttle.
type VerificationCode struct {
	ID        string      `json:"id"`
	UserID    int64       `json:"userId"`
	Purpose   CodePurpose `json:"purpose"`
	Value     string      `json:"-"`
	IssuedAt  time.Time   `json:"issuedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
	SentAt    time.Time   `json:"sentAt"`
	// Attempts counts wrong values presented against this record.
	Attempts int `json:"attempts"`
}

// ExpiredAt reports whether the code is expired at t. Expiry is exclusive:
// a code checked exactly at ExpiresAt is already expired.
func (c *VerificationCode) ExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}
