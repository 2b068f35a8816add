package verification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxochat/chat-core/internal/apperror"
	"github.com/foxochat/chat-core/internal/mailer"
	"github.com/foxochat/chat-core/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================

type slotKey struct {
	userID  int64
	purpose model.CodePurpose
}

// memCodes is an in-memory CodeRepository with the same atomicity as the
// SQLite store: every method holds the lock for its whole body.
type memCodes struct {
	mu    sync.Mutex
	slots map[slotKey]model.VerificationCode
	err   error
}

func newMemCodes() *memCodes {
	return &memCodes{slots: make(map[slotKey]model.VerificationCode)}
}

func (m *memCodes) ReplaceCode(_ context.Context, c *model.VerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.slots[slotKey{c.UserID, c.Purpose}] = *c
	return nil
}

func (m *memCodes) RestoreCode(_ context.Context, c *model.VerificationCode) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := slotKey{c.UserID, c.Purpose}
	if _, ok := m.slots[k]; ok {
		return false, nil
	}
	m.slots[k] = *c
	return true, nil
}

func (m *memCodes) FindCode(_ context.Context, userID int64, purpose model.CodePurpose) (*model.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.slots[slotKey{userID, purpose}]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memCodes) DeleteCode(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.slots {
		if c.ID == id {
			delete(m.slots, k)
			return true, nil
		}
	}
	return false, nil
}

func (m *memCodes) RecordFailedAttempt(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.slots {
		if c.ID == id {
			c.Attempts++
			m.slots[k] = c
			return c.Attempts, nil
		}
	}
	return 0, nil
}

func (m *memCodes) MarkCodeSent(_ context.Context, id string, prev, sentAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.slots {
		if c.ID == id && c.SentAt.Equal(prev) {
			c.SentAt = sentAt
			m.slots[k] = c
			return true, nil
		}
	}
	return false, nil
}

func (m *memCodes) DeleteExpiredCodes(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, c := range m.slots {
		if c.ExpiredAt(now) {
			delete(m.slots, k)
			n++
		}
	}
	return n, nil
}

func (m *memCodes) get(userID int64, purpose model.CodePurpose) (model.VerificationCode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.slots[slotKey{userID, purpose}]
	return c, ok
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// =========================================================================
// HELPERS
// =========================================================================

type fixture struct {
	mgr   *Manager
	codes *memCodes
	mail  *fakeMailer
	now   *time.Time
	user  *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{
		codes: newMemCodes(),
		mail:  &fakeMailer{},
		now:   &now,
		user:  &model.User{ID: 1, Username: "alice", Email: "alice@x.com"},
	}
	mgr, err := NewManager(f.codes, f.mail, Config{
		BaseLifetime:   15 * time.Minute,
		ResendLifetime: time.Minute,
		Now:            func() time.Time { return *f.now },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

func (f *fixture) advance(d time.Duration) { *f.now = f.now.Add(d) }

// =========================================================================
// TESTS
// =========================================================================

func TestNewManager_RejectsBadLifetimes(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero base", Config{BaseLifetime: 0, ResendLifetime: time.Minute}},
		{"zero resend", Config{BaseLifetime: time.Hour}},
		{"resend equals base", Config{BaseLifetime: time.Minute, ResendLifetime: time.Minute}},
		{"resend longer than base", Config{BaseLifetime: time.Minute, ResendLifetime: time.Hour}},
		{"negative max attempts", Config{BaseLifetime: time.Hour, ResendLifetime: time.Minute, MaxAttempts: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(newMemCodes(), &fakeMailer{}, tt.cfg, slog.Default())
			assert.Error(t, err)
		})
	}
}

func TestIssue_StoresAndSends(t *testing.T) {
	f := newFixture(t)

	code, err := f.mgr.Issue(context.Background(), f.user, model.PurposeEmailVerify, "tok")
	require.NoError(t, err)

	assert.Len(t, code.Value, CodeLength)
	assert.True(t, wellFormed(code.Value))
	assert.True(t, code.IssuedAt.Equal(*f.now))
	assert.True(t, code.ExpiresAt.Equal(f.now.Add(15*time.Minute)))
	assert.True(t, code.SentAt.Equal(code.IssuedAt))

	stored, ok := f.codes.get(f.user.ID, model.PurposeEmailVerify)
	require.True(t, ok)
	assert.Equal(t, code.ID, stored.ID)

	require.Equal(t, 1, f.mail.count())
	msg := f.mail.sent[0]
	assert.Equal(t, "alice@x.com", msg.To)
	assert.Equal(t, int64(1), msg.UserID)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, code.Value, msg.Code)
	assert.Equal(t, "tok", msg.Token)
	assert.Equal(t, model.PurposeEmailVerify, msg.Purpose)
}

func TestIssue_SupersedesPreviousCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)
	second, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)

	stored, _ := f.codes.get(f.user.ID, model.PurposeEmailVerify)
	assert.Equal(t, second.ID, stored.ID)

	// the superseded record can no longer be claimed
	err = f.mgr.Consume(ctx, first)
	assert.ErrorIs(t, err, apperror.ErrCodeInvalid)
}

func TestIssue_PurposesAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	verify, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)
	_, err = f.mgr.Issue(ctx, f.user, model.PurposePasswordReset, "")
	require.NoError(t, err)

	got, err := f.mgr.Validate(ctx, f.user.ID, model.PurposeEmailVerify, verify.Value)
	require.NoError(t, err)
	assert.Equal(t, verify.ID, got.ID)
}

func TestIssue_StoreFailureSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.codes.err = errors.New("disk full")

	_, err := f.mgr.Issue(context.Background(), f.user, model.PurposeEmailVerify, "")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInternal, apperror.Code(err))
	assert.Equal(t, 0, f.mail.count())
}

func TestIssue_DeliveryFailureKeepsCode(t *testing.T) {
	f := newFixture(t)
	f.mail.err = errors.New("smtp: connection refused")

	code, err := f.mgr.Issue(context.Background(), f.user, model.PurposeEmailVerify, "")
	require.ErrorIs(t, err, ErrDelivery)
	require.NotNil(t, code)
	assert.Equal(t, apperror.CodeInternal, apperror.Code(err))

	_, ok := f.codes.get(f.user.ID, model.PurposeEmailVerify)
	assert.True(t, ok)
}

func TestIssue_UnknownPurpose(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Issue(context.Background(), f.user, model.CodePurpose("login"), "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)
	wrong := "000000"
	if code.Value == wrong {
		wrong = "111111"
	}

	tests := []struct {
		name    string
		userID  int64
		purpose model.CodePurpose
		value   string
		wantErr error
	}{
		{"matching value", f.user.ID, model.PurposeEmailVerify, code.Value, nil},
		{"wrong value", f.user.ID, model.PurposeEmailVerify, wrong, apperror.ErrCodeInvalid},
		{"malformed value", f.user.ID, model.PurposeEmailVerify, "12ab56", apperror.ErrCodeInvalid},
		{"empty value", f.user.ID, model.PurposeEmailVerify, "", apperror.ErrCodeInvalid},
		{"other purpose", f.user.ID, model.PurposePasswordReset, code.Value, apperror.ErrCodeInvalid},
		{"other user", 2, model.PurposeEmailVerify, code.Value, apperror.ErrCodeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.mgr.Validate(ctx, tt.userID, tt.purpose, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, code.ID, got.ID)
		})
	}

	// validation alone does not consume
	_, ok := f.codes.get(f.user.ID, model.PurposeEmailVerify)
	assert.True(t, ok)
}

func wrongValue(code *model.VerificationCode) string {
	if code.Value == "000000" {
		return "111111"
	}
	return "000000"
}

func TestValidate_TooManyFailuresInvalidatesCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.mgr.Issue(ctx, f.user, model.PurposePasswordReset, "")
	require.NoError(t, err)

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		_, err := f.mgr.Validate(ctx, f.user.ID, model.PurposePasswordReset, wrongValue(code))
		require.ErrorIs(t, err, apperror.ErrCodeInvalid)
	}
	got, err := f.mgr.Validate(ctx, f.user.ID, model.PurposePasswordReset, code.Value)
	require.NoError(t, err, "code should survive one failure short of the limit")
	assert.Equal(t, DefaultMaxAttempts-1, got.Attempts)

	_, err = f.mgr.Validate(ctx, f.user.ID, model.PurposePasswordReset, wrongValue(code))
	require.ErrorIs(t, err, apperror.ErrCodeInvalid)

	_, ok := f.codes.get(f.user.ID, model.PurposePasswordReset)
	assert.False(t, ok, "exhausted code should be deleted")

	_, err = f.mgr.Validate(ctx, f.user.ID, model.PurposePasswordReset, code.Value)
	assert.ErrorIs(t, err, apperror.ErrCodeInvalid)
}

func TestValidate_NewCodeStartsWithFreshAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)
	for i := 0; i < DefaultMaxAttempts-1; i++ {
		_, err := f.mgr.Validate(ctx, f.user.ID, model.PurposeEmailVerify, wrongValue(first))
		require.ErrorIs(t, err, apperror.ErrCodeInvalid)
	}

	second, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)
	_, err = f.mgr.Validate(ctx, f.user.ID, model.PurposeEmailVerify, wrongValue(second))
	require.ErrorIs(t, err, apperror.ErrCodeInvalid)

	got, err := f.mgr.Validate(ctx, f.user.ID, model.PurposeEmailVerify, second.Value)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}

func TestValidate_NeverIssued(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Validate(context.Background(), f.user.ID, model.PurposeEmailVerify, "123456")
	assert.ErrorIs(t, err, apperror.ErrCodeInvalid)
}

func TestValidate_ExpiryIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)

	f.advance(15*time.Minute - time.Millisecond)
	_, err = f.mgr.Validate(ctx, f.user.ID, model.PurposeEmailVerify, code.Value)
	require.NoError(t, err, "one millisecond before expiry is still live")

	f.advance(time.Millisecond)
	_, err = f.mgr.Validate(ctx, f.user.ID, model.PurposeEmailVerify, code.Value)
	assert.ErrorIs(t, err, apperror.ErrCodeExpired)

	// the expired record was deleted by the check
	_, ok := f.codes.get(f.user.ID, model.PurposeEmailVerify)
	assert.False(t, ok)

	_, err = f.mgr.Validate(ctx, f.user.ID, model.PurposeEmailVerify, code.Value)
	assert.ErrorIs(t, err, apperror.ErrCodeInvalid)
}

func TestValidate_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.codes.err = errors.New("database is locked")

	_, err := f.mgr.Validate(context.Background(), f.user.ID, model.PurposeEmailVerify, "123456")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperror.ErrCodeInvalid)
	assert.Equal(t, apperror.CodeInternal, apperror.Code(err))
}

func TestConsume_OnlyOneConcurrentCallerWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)

	const callers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.mgr.Consume(ctx, code)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperror.ErrCodeInvalid)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)
	require.NoError(t, f.mgr.Consume(ctx, code))

	require.NoError(t, f.mgr.Restore(ctx, code))
	_, err = f.mgr.Validate(ctx, f.user.ID, model.PurposeEmailVerify, code.Value)
	assert.NoError(t, err)
}

func TestRestore_DoesNotSupersedeNewerCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)
	require.NoError(t, f.mgr.Consume(ctx, old))
	newer, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)

	require.NoError(t, f.mgr.Restore(ctx, old))

	stored, _ := f.codes.get(f.user.ID, model.PurposeEmailVerify)
	assert.Equal(t, newer.ID, stored.ID)
}

func TestResend_Throttle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "tok1")
	require.NoError(t, err)

	err = f.mgr.Resend(ctx, f.user, model.PurposeEmailVerify, "tok2")
	assert.ErrorIs(t, err, apperror.ErrResendTooSoon)

	f.advance(time.Minute)
	require.NoError(t, f.mgr.Resend(ctx, f.user, model.PurposeEmailVerify, "tok2"))

	require.Equal(t, 2, f.mail.count())
	assert.Equal(t, code.Value, f.mail.sent[1].Code, "resend must reuse the original value")
	assert.Equal(t, "tok2", f.mail.sent[1].Token)
	assert.True(t, f.mail.sent[1].ExpiresAt.Equal(code.ExpiresAt))

	// the window restarts from the last delivery
	f.advance(30 * time.Second)
	err = f.mgr.Resend(ctx, f.user, model.PurposeEmailVerify, "")
	assert.ErrorIs(t, err, apperror.ErrResendTooSoon)
}

func TestReissue_Throttle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.Reissue(ctx, f.user, model.PurposePasswordReset, "")
	require.NoError(t, err)

	_, err = f.mgr.Reissue(ctx, f.user, model.PurposePasswordReset, "")
	assert.ErrorIs(t, err, apperror.ErrResendTooSoon)
	assert.Equal(t, 1, f.mail.count())
	stored, ok := f.codes.get(f.user.ID, model.PurposePasswordReset)
	require.True(t, ok)
	assert.Equal(t, first.ID, stored.ID, "throttled reissue must keep the live code")

	f.advance(time.Minute)
	second, err := f.mgr.Reissue(ctx, f.user, model.PurposePasswordReset, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, f.mail.count())

	// an expired code never holds the slot
	f.advance(15 * time.Minute)
	_, err = f.mgr.Reissue(ctx, f.user, model.PurposePasswordReset, "")
	require.NoError(t, err)
	assert.Equal(t, 3, f.mail.count())
}

func TestResend_NoLiveCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.mgr.Resend(ctx, f.user, model.PurposeEmailVerify, "")
	assert.ErrorIs(t, err, apperror.ErrCodeNotFound)

	_, err = f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)
	f.advance(15 * time.Minute)

	err = f.mgr.Resend(ctx, f.user, model.PurposeEmailVerify, "")
	assert.ErrorIs(t, err, apperror.ErrCodeNotFound)
}

func TestResend_ConcurrentOnlyOnePasses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)
	f.advance(2 * time.Minute)

	const callers = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		passed int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.mgr.Resend(ctx, f.user, model.PurposeEmailVerify, "")
			if err == nil {
				mu.Lock()
				passed++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperror.ErrResendTooSoon)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, passed)
	assert.Equal(t, 2, f.mail.count())
}

func TestResend_DeliveryFailureReleasesThrottle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Issue(ctx, f.user, model.PurposeEmailVerify, "")
	require.NoError(t, err)
	f.advance(2 * time.Minute)

	f.mail.err = errors.New("smtp: timeout")
	err = f.mgr.Resend(ctx, f.user, model.PurposeEmailVerify, "")
	require.ErrorIs(t, err, ErrDelivery)
	assert.NotErrorIs(t, err, apperror.ErrCodeInvalid)

	f.mail.err = nil
	assert.NoError(t, f.mgr.Resend(ctx, f.user, model.PurposeEmailVerify, ""))
}

func TestGenerateValue_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		v, err := generateValue()
		require.NoError(t, err)
		require.True(t, wellFormed(v), "bad code %q", v)
	}
}
