// Package service holds the business logic: authentication and channels.
//
// AuthService is the single entry point handlers use for identity:
//
//	AuthHandler (HTTP) → AuthService → UserRepository (DB)
//	                   ↘ TokenService (JWT)
//	                   ↘ PasswordService (bcrypt)
//	                   ↘ verification.Manager (one-time codes → mailer)
//
// TOKEN REVOCATION:
// Every token carries a fingerprint of the user's password hash at issue
// time. ResolveIdentity compares it with the current hash, so changing the
// password (ConfirmPasswordReset) invalidates every earlier token without a
// revocation list.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxochat/chat-core/internal/apperror"
	"github.com/foxochat/chat-core/internal/auth"
	"github.com/foxochat/chat-core/internal/model"
	"github.com/foxochat/chat-core/internal/repository"
	"github.com/foxochat/chat-core/internal/verification"
)

// AuthOptions carries the development switches.
type AuthOptions struct {
	// SkipCodeValidation confirms emails without checking a code and turns
	// resending into a no-op. Never enable outside development.
	SkipCodeValidation bool
}

// AuthService handles registration, login, identity resolution and the
// email-confirmation and password-reset flows.
type AuthService struct {
	users     repository.UserRepository
	codes     *verification.Manager
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	opts      AuthOptions
	logger    *slog.Logger
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(
	users repository.UserRepository,
	codes *verification.Manager,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthService {
	if opts.SkipCodeValidation {
		logger.Warn("email code validation is DISABLED (development mode)")
	}
	return &AuthService{
		users:     users,
		codes:     codes,
		tokens:    tokens,
		passwords: passwords,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// AuthResult bundles the user record and the issued token.
type AuthResult struct {
	User  *model.User
	Token string
}

// Register creates an account flagged as awaiting confirmation, sends an
// email-verification code and returns a first token.
//
// Duplicate usernames and emails are detected by the insert itself, which
// fails with CredentialsDuplicate. Once the user row exists registration has
// succeeded: a failure to store or deliver the code is logged and the user
// recovers with ResendVerification.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	username = normalizeUsername(username)
	email = normalizeEmail(email)

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword("password", password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Flags:        model.FlagAwaitingConfirmation,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperror.CredentialsDuplicate()
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)

	token, err := s.tokens.Issue(user.ID, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for user %d: %w", user.ID, err)
	}

	if _, err := s.codes.Issue(ctx, user, model.PurposeEmailVerify, token); err != nil {
		s.logger.Error("failed to send verification email after registration",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}

	return &AuthResult{User: user, Token: token}, nil
}

// Login checks email and password and issues a token. An unknown email and a
// wrong password both fail with CredentialsInvalid. Email verification is not
// required here; it is enforced by ResolveIdentity on gated routes.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword("password", password); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Unknown emails pay for a bcrypt comparison too.
			s.passwords.Verify(password, s.fallbackHash())
			return nil, apperror.CredentialsInvalid()
		}
		return nil, fmt.Errorf("service/auth: looking up user by email: %w", err)
	}

	if !s.passwords.Verify(password, user.PasswordHash) {
		s.logger.Debug("login rejected", slog.Int64("userID", user.ID))
		return nil, apperror.CredentialsInvalid()
	}

	token, err := s.tokens.Issue(user.ID, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for user %d: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.Int64("userID", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// ResolveIdentity turns a presented token into the user it names.
//
// It fails with Unauthorized when the value is missing or carries the wrong
// scheme for src, when the token does not verify or has expired, when the
// user no longer exists, or when the user's password changed after the token
// was issued. With requireEmailVerified it fails with EmailNotVerified for a
// user whose address is not confirmed.
func (s *AuthService) ResolveIdentity(ctx context.Context, value string, src auth.TokenSource, requireEmailVerified bool) (*model.User, error) {
	raw, err := auth.ExtractToken(value, src)
	if err != nil {
		return nil, apperror.Unauthorized()
	}

	claims, err := s.tokens.Verify(raw)
	if err != nil {
		s.logger.Debug("token rejected", slog.String("reason", err.Error()))
		return nil, apperror.Unauthorized()
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized()
		}
		return nil, fmt.Errorf("service/auth: loading user %d: %w", claims.UserID, err)
	}

	if !s.tokens.MatchesCredential(claims, user.PasswordHash) {
		s.logger.Debug("stale token rejected", slog.Int64("userID", user.ID))
		return nil, apperror.Unauthorized()
	}

	if requireEmailVerified && !user.HasFlag(model.FlagEmailVerified) {
		return nil, apperror.EmailNotVerified()
	}

	return user, nil
}

// ConfirmEmail checks code against the user's pending email-verification
// code and marks the address verified. The code is claimed before the user
// is written, so two concurrent confirmations cannot both use it; if the
// write fails the code is put back.
//
// Only the flag bits are written, so a password change that lands between
// resolving user and confirming stays in effect. The returned user is the
// stored row after the write.
func (s *AuthService) ConfirmEmail(ctx context.Context, user *model.User, code string) (*model.User, error) {
	if s.opts.SkipCodeValidation {
		updated, err := s.markEmailVerified(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		s.logger.Info("email verified without code (development mode)", slog.Int64("userID", user.ID))
		return updated, nil
	}

	record, err := s.codes.Validate(ctx, user.ID, model.PurposeEmailVerify, code)
	if err != nil {
		return nil, err
	}
	if err := s.codes.Consume(ctx, record); err != nil {
		return nil, err
	}

	updated, err := s.markEmailVerified(ctx, user.ID)
	if err != nil {
		s.restoreCode(ctx, record)
		return nil, err
	}

	s.logger.Info("email verified", slog.Int64("userID", user.ID))
	return updated, nil
}

func (s *AuthService) markEmailVerified(ctx context.Context, userID int64) (*model.User, error) {
	updated, err := s.users.UpdateUserFlags(ctx, userID, model.FlagEmailVerified, model.FlagAwaitingConfirmation)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized()
		}
		return nil, fmt.Errorf("service/auth: saving user %d: %w", userID, err)
	}
	return updated, nil
}

// ResendVerification re-delivers the pending email-verification code with a
// fresh auto-login token. When no live code exists and the address is still
// unconfirmed (the code expired, or was never stored), a new one is issued.
// It is a no-op when code validation is disabled.
func (s *AuthService) ResendVerification(ctx context.Context, user *model.User, token string) error {
	if s.opts.SkipCodeValidation {
		return nil
	}

	err := s.codes.Resend(ctx, user, model.PurposeEmailVerify, token)
	if errors.Is(err, apperror.ErrCodeNotFound) && !user.HasFlag(model.FlagEmailVerified) {
		if _, err := s.codes.Issue(ctx, user, model.PurposeEmailVerify, token); err != nil {
			return fmt.Errorf("service/auth: reissuing verification code for user %d: %w", user.ID, err)
		}
		return nil
	}
	return err
}

// RequestPasswordReset mails a password-reset code to the account owning
// email. It fails with CredentialsInvalid for an unknown address and with
// ResendTooSoon when a reset code went out less than the resend window ago.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.CredentialsInvalid()
		}
		return fmt.Errorf("service/auth: looking up user by email: %w", err)
	}

	if _, err := s.codes.Reissue(ctx, user, model.PurposePasswordReset, ""); err != nil {
		if errors.Is(err, apperror.ErrResendTooSoon) {
			return err
		}
		return fmt.Errorf("service/auth: issuing reset code for user %d: %w", user.ID, err)
	}

	s.logger.Info("password reset requested", slog.Int64("userID", user.ID))
	return nil
}

// ConfirmPasswordReset replaces the password of the account owning email
// after checking the reset code. Every token issued before the change stops
// resolving.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validatePassword("newPassword", newPassword); err != nil {
		return err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.CredentialsInvalid()
		}
		return fmt.Errorf("service/auth: looking up user by email: %w", err)
	}

	record, err := s.codes.Validate(ctx, user.ID, model.PurposePasswordReset, code)
	if err != nil {
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}

	if err := s.codes.Consume(ctx, record); err != nil {
		return err
	}

	if _, err := s.users.UpdateUserPassword(ctx, user.ID, hash, model.FlagAwaitingConfirmation); err != nil {
		s.restoreCode(ctx, record)
		return fmt.Errorf("service/auth: saving user %d: %w", user.ID, err)
	}

	s.logger.Info("password reset", slog.Int64("userID", user.ID))
	return nil
}

func (s *AuthService) restoreCode(ctx context.Context, record *model.VerificationCode) {
	if err := s.codes.Restore(ctx, record); err != nil {
		s.logger.Error("failed to restore verification code",
			slog.Int64("userID", record.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// fallbackHash returns a digest computed once per service, compared against
// on the unknown-email login path.
func (s *AuthService) fallbackHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.passwords.Hash("timing-equalizer")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
