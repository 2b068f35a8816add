// Package repository declares the persistence collaborators the core depends
// on. Implementations live in sub-packages (see repository/sqlite).
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/foxochat/chat-core/internal/model"
	"github.com/foxochat/chat-core/internal/permission"
)

// ErrDuplicate is returned by Create/Update when a uniqueness constraint
// (username, email, channel name, membership) rejects the write. The write
// attempt itself is the source of truth; callers must not pre-check.
var ErrDuplicate = errors.New("repository: duplicate")

// UserRepository is the user directory.
//
// Lookups and updates return an apperror.NotFound error when no row matches.
// Updates touch only the columns they name and return the stored row, so
// writers working from different snapshots of the same user never undo each
// other's changes.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error

	// UpdateUserFlags clears the clear bits and then sets the set bits of
	// the stored flags.
	UpdateUserFlags(ctx context.Context, id int64, set, clear model.UserFlag) (*model.User, error)

	// UpdateUserPassword replaces the password hash and clears the clear
	// bits of the stored flags in the same write.
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string, clear model.UserFlag) (*model.User, error)

	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// CodeRepository stores verification codes, one slot per (user, purpose).
//
// Every mutation is atomic with respect to the others so concurrent issue,
// validate and resend calls for the same slot stay individually correct.
type CodeRepository interface {
	// ReplaceCode stores code in its (user, purpose) slot, superseding any
	// previous code there.
	ReplaceCode(ctx context.Context, code *model.VerificationCode) error

	// RestoreCode stores code only if its slot is empty. It reports whether
	// the code was stored.
	RestoreCode(ctx context.Context, code *model.VerificationCode) (bool, error)

	// FindCode returns the code in the slot, or (nil, nil) when empty.
	FindCode(ctx context.Context, userID int64, purpose model.CodePurpose) (*model.VerificationCode, error)

	// DeleteCode removes the code with this record id. It reports false when
	// the record was already consumed or superseded.
	DeleteCode(ctx context.Context, id string) (bool, error)

	// RecordFailedAttempt atomically increments the attempt counter of the
	// record with this id and returns the new count, or 0 when the record is
	// gone.
	RecordFailedAttempt(ctx context.Context, id string) (int, error)

	// MarkCodeSent sets SentAt to sentAt only if the stored SentAt still
	// equals prevSentAt (optimistic concurrency). It reports whether the
	// update won.
	MarkCodeSent(ctx context.Context, id string, prevSentAt, sentAt time.Time) (bool, error)

	// DeleteExpiredCodes removes every code with ExpiresAt <= now.
	DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

// ChannelRepository stores channels.
type ChannelRepository interface {
	CreateChannel(ctx context.Context, channel *model.Channel) error
	UpdateChannel(ctx context.Context, channel *model.Channel) error
	DeleteChannel(ctx context.Context, id string) error
	GetChannelByName(ctx context.Context, name string) (*model.Channel, error)
}

// MemberRepository stores channel memberships.
type MemberRepository interface {
	CreateMember(ctx context.Context, member *model.Member) error
	DeleteMember(ctx context.Context, channelID string, userID int64) error
	GetMember(ctx context.Context, channelID string, userID int64) (*model.Member, error)
	ListMembers(ctx context.Context, channelID string) ([]model.Member, error)
	SetMemberPermissions(ctx context.Context, channelID string, userID int64, perms permission.Set) error
}
