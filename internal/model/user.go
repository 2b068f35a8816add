// Package model defines the data structures used throughout the application.
package model

import "time"

// UserFlag is a single bit in User.Flags.
type UserFlag int64

const (
	// FlagAwaitingConfirmation is set at registration and cleared once the
	// email address is confirmed or a password reset completes.
	FlagAwaitingConfirmation UserFlag = 1 << iota
	// FlagEmailVerified gates actions that require a confirmed address.
	FlagEmailVerified
)

// User represents a registered account.
//
// Username is stored lower-cased; both Username and Email are unique in the
// user directory. PasswordHash is the opaque digest produced by
// auth.PasswordService and must never leave the server, not even inside a
// token (tokens carry a keyed fingerprint of it instead).
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"displayName"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Flags        UserFlag   `json:"flags"`
	CreatedAt    time.Time  `json:"createdAt"`
	DeletionAt   *time.Time `json:"deletionAt,omitempty"` // scheduled deletion, nil when none
}

func (u *User) AddFlag(f UserFlag) {
	u.Flags |= f
}

func (u *User) RemoveFlag(f UserFlag) {
	u.Flags &^= f
}

func (u *User) HasFlag(f UserFlag) bool {
	return u.Flags&f != 0
}
