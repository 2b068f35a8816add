// Package verification runs the one-time code workflow behind email
// confirmation and password reset.
//
// Each (user, purpose) pair owns a single slot:
//
//	NONE → ISSUED → CONSUMED | EXPIRED | SUPERSEDED
//
// Issue fills the slot (superseding whatever was there), Validate checks a
// presented value without consuming it, Consume claims the record exactly
// once, and Resend re-delivers the same value subject to a throttle.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/rs/xid"

	"github.com/foxochat/chat-core/internal/apperror"
	"github.com/foxochat/chat-core/internal/mailer"
	"github.com/foxochat/chat-core/internal/model"
	"github.com/foxochat/chat-core/internal/repository"
)

// CodeLength is the number of decimal digits in a code.
const CodeLength = 6

// DefaultMaxAttempts is used when Config.MaxAttempts is zero.
const DefaultMaxAttempts = 5

var codeSpace = big.NewInt(1_000_000)

// ErrDelivery marks a failure to hand a code to the mailer after the code was
// stored. The slot is intact, so the user can recover with a resend.
var ErrDelivery = errors.New("verification: delivery failed")

// Config holds the code lifetimes.
type Config struct {
	// BaseLifetime is how long a code stays valid after issuance.
	BaseLifetime time.Duration
	// ResendLifetime is the minimum gap between two deliveries of the same
	// code. It must be shorter than BaseLifetime.
	ResendLifetime time.Duration
	// MaxAttempts is how many wrong values a code survives. The failure that
	// reaches it deletes the code. Defaults to DefaultMaxAttempts.
	MaxAttempts int
	// Now overrides the clock in tests. Defaults to time.Now.
	Now func() time.Time
}

// Manager issues, validates, consumes and re-sends verification codes.
type Manager struct {
	codes  repository.CodeRepository
	mail   mailer.Mailer
	cfg    Config
	logger *slog.Logger
}

func NewManager(codes repository.CodeRepository, mail mailer.Mailer, cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.BaseLifetime <= 0 {
		return nil, fmt.Errorf("verification: base lifetime must be positive")
	}
	if cfg.ResendLifetime <= 0 || cfg.ResendLifetime >= cfg.BaseLifetime {
		return nil, fmt.Errorf("verification: resend lifetime must be positive and shorter than base lifetime")
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("verification: max attempts must not be negative")
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{codes: codes, mail: mail, cfg: cfg, logger: logger}, nil
}

// now is the clock truncated to the storage precision, so a SentAt read back
// from the store compares equal to the value that was written.
func (m *Manager) now() time.Time {
	return m.cfg.Now().UTC().Truncate(time.Millisecond)
}

// Issue mints a fresh code for (user, purpose), stores it in place of any
// previous one and sends it. token is optional and is forwarded to the mailer
// for the auto-login link.
//
// A store failure aborts before anything is sent. A delivery failure returns
// the stored code together with an error wrapping ErrDelivery.
func (m *Manager) Issue(ctx context.Context, user *model.User, purpose model.CodePurpose, token string) (*model.VerificationCode, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("verification: unknown purpose %q", purpose)
	}

	value, err := generateValue()
	if err != nil {
		return nil, fmt.Errorf("verification: generating code: %w", err)
	}

	now := m.now()
	code := &model.VerificationCode{
		ID:        xid.New().String(),
		UserID:    user.ID,
		Purpose:   purpose,
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.BaseLifetime),
		SentAt:    now,
	}

	if err := m.codes.ReplaceCode(ctx, code); err != nil {
		return nil, fmt.Errorf("verification: storing code for user %d: %w", user.ID, err)
	}

	m.logger.Info("verification code issued",
		slog.Int64("userID", user.ID),
		slog.String("purpose", string(purpose)),
	)

	if err := m.mail.Send(ctx, messageFor(user, code, token)); err != nil {
		return code, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	return code, nil
}

// Validate checks value against the live code in the (user, purpose) slot
// and returns the record without consuming it.
//
// It fails with CodeInvalid when there is no code or the value does not
// match, and with CodeExpired when the matching code is past its expiry. An
// expired record is deleted as part of the check. Every mismatch counts
// against the code, and after MaxAttempts mismatches it is deleted, so the
// right value no longer works either.
func (m *Manager) Validate(ctx context.Context, userID int64, purpose model.CodePurpose, value string) (*model.VerificationCode, error) {
	if !wellFormed(value) {
		return nil, apperror.CodeInvalid()
	}

	code, err := m.codes.FindCode(ctx, userID, purpose)
	if err != nil {
		return nil, fmt.Errorf("verification: finding code for user %d: %w", userID, err)
	}
	if code == nil {
		return nil, apperror.CodeInvalid()
	}
	if subtle.ConstantTimeCompare([]byte(code.Value), []byte(value)) != 1 {
		if err := m.recordFailure(ctx, code); err != nil {
			return nil, err
		}
		return nil, apperror.CodeInvalid()
	}

	now := m.now()
	if now.Before(code.IssuedAt) {
		return nil, apperror.CodeInvalid()
	}
	if code.ExpiredAt(now) {
		if _, err := m.codes.DeleteCode(ctx, code.ID); err != nil {
			m.logger.Error("failed to delete expired code",
				slog.Int64("userID", userID),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.CodeExpired()
	}

	return code, nil
}

func (m *Manager) recordFailure(ctx context.Context, code *model.VerificationCode) error {
	n, err := m.codes.RecordFailedAttempt(ctx, code.ID)
	if err != nil {
		return fmt.Errorf("verification: recording failed attempt for user %d: %w", code.UserID, err)
	}
	if n < m.cfg.MaxAttempts {
		return nil
	}

	if _, err := m.codes.DeleteCode(ctx, code.ID); err != nil {
		return fmt.Errorf("verification: deleting exhausted code for user %d: %w", code.UserID, err)
	}
	m.logger.Warn("verification code invalidated after repeated failures",
		slog.Int64("userID", code.UserID),
		slog.String("purpose", string(code.Purpose)),
		slog.Int("attempts", n),
	)
	return nil
}

// Consume claims code. Only one caller can claim a given record; every other
// caller, and any caller whose record was superseded in the meantime, gets
// CodeInvalid.
func (m *Manager) Consume(ctx context.Context, code *model.VerificationCode) error {
	deleted, err := m.codes.DeleteCode(ctx, code.ID)
	if err != nil {
		return fmt.Errorf("verification: consuming code for user %d: %w", code.UserID, err)
	}
	if !deleted {
		return apperror.CodeInvalid()
	}
	return nil
}

// Restore puts a consumed code back when the operation it guarded failed.
// A code issued in the meantime wins and the restore is dropped.
func (m *Manager) Restore(ctx context.Context, code *model.VerificationCode) error {
	stored, err := m.codes.RestoreCode(ctx, code)
	if err != nil {
		return fmt.Errorf("verification: restoring code for user %d: %w", code.UserID, err)
	}
	if !stored {
		m.logger.Debug("code not restored, slot already refilled",
			slog.Int64("userID", code.UserID),
			slog.String("purpose", string(code.Purpose)),
		)
	}
	return nil
}

// Reissue is Issue behind the resend throttle: while the slot holds a live
// code delivered less than ResendLifetime ago it fails with ResendTooSoon
// and sends nothing.
func (m *Manager) Reissue(ctx context.Context, user *model.User, purpose model.CodePurpose, token string) (*model.VerificationCode, error) {
	code, err := m.codes.FindCode(ctx, user.ID, purpose)
	if err != nil {
		return nil, fmt.Errorf("verification: finding code for user %d: %w", user.ID, err)
	}

	now := m.now()
	if code != nil && !code.ExpiredAt(now) && now.Sub(code.SentAt) < m.cfg.ResendLifetime {
		return nil, apperror.ResendTooSoon()
	}
	return m.Issue(ctx, user, purpose, token)
}

// Resend delivers the live code for (user, purpose) again, with the same
// value. It fails with CodeNotFound when there is no live code and with
// ResendTooSoon when the previous delivery is more recent than the resend
// window. Concurrent resends race on a compare-and-set, so at most one of
// them passes the throttle.
func (m *Manager) Resend(ctx context.Context, user *model.User, purpose model.CodePurpose, token string) error {
	code, err := m.codes.FindCode(ctx, user.ID, purpose)
	if err != nil {
		return fmt.Errorf("verification: finding code for user %d: %w", user.ID, err)
	}

	now := m.now()
	if code == nil || code.ExpiredAt(now) {
		return apperror.CodeNotFound()
	}
	if now.Sub(code.SentAt) < m.cfg.ResendLifetime {
		return apperror.ResendTooSoon()
	}

	won, err := m.codes.MarkCodeSent(ctx, code.ID, code.SentAt, now)
	if err != nil {
		return fmt.Errorf("verification: marking code sent for user %d: %w", user.ID, err)
	}
	if !won {
		return apperror.ResendTooSoon()
	}

	if err := m.mail.Send(ctx, messageFor(user, code, token)); err != nil {
		// Give the slot its throttle back so the user can retry right away.
		if _, rerr := m.codes.MarkCodeSent(ctx, code.ID, now, code.SentAt); rerr != nil {
			m.logger.Error("failed to roll back resend timestamp",
				slog.Int64("userID", user.ID),
				slog.String("error", rerr.Error()),
			)
		}
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	m.logger.Info("verification code resent",
		slog.Int64("userID", user.ID),
		slog.String("purpose", string(purpose)),
	)
	return nil
}

func messageFor(user *model.User, code *model.VerificationCode, token string) mailer.Message {
	return mailer.Message{
		To:        user.Email,
		UserID:    user.ID,
		Purpose:   code.Purpose,
		Username:  user.Username,
		Code:      code.Value,
		IssuedAt:  code.IssuedAt,
		ExpiresAt: code.ExpiresAt,
		Token:     token,
	}
}

func generateValue() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func wellFormed(value string) bool {
	if len(value) != CodeLength {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
