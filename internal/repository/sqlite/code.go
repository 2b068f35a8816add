package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foxochat/chat-core/internal/model"
	"github.com/foxochat/chat-core/internal/repository"
)

var _ repository.CodeRepository = (*DB)(nil)

// ReplaceCode upserts into the (user_id, purpose) slot. The previous code, if
// any, is overwritten together with its record id, so a caller still holding
// the old id can no longer delete or mark it. The attempt counter restarts.
func (db *DB) ReplaceCode(ctx context.Context, code *model.VerificationCode) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO verification_codes (id, user_id, purpose, value, issued_at, expires_at, sent_at, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT (user_id, purpose) DO UPDATE SET
			id         = excluded.id,
			value      = excluded.value,
			issued_at  = excluded.issued_at,
			expires_at = excluded.expires_at,
			sent_at    = excluded.sent_at,
			attempts   = 0`,
		code.ID,
		code.UserID,
		string(code.Purpose),
		code.Value,
		toMillis(code.IssuedAt),
		toMillis(code.ExpiresAt),
		toMillis(code.SentAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing code for user %d: %w", code.UserID, err)
	}
	return nil
}

// RestoreCode inserts code unless its slot is already taken.
func (db *DB) RestoreCode(ctx context.Context, code *model.VerificationCode) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO verification_codes (id, user_id, purpose, value, issued_at, expires_at, sent_at, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		code.ID,
		code.UserID,
		string(code.Purpose),
		code.Value,
		toMillis(code.IssuedAt),
		toMillis(code.ExpiresAt),
		toMillis(code.SentAt),
		code.Attempts,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: restoring code for user %d: %w", code.UserID, err)
	}
	return affected(res)
}

func (db *DB) FindCode(ctx context.Context, userID int64, purpose model.CodePurpose) (*model.VerificationCode, error) {
	var (
		c                           model.VerificationCode
		p                           string
		issuedAt, expiresAt, sentAt int64
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, purpose, value, issued_at, expires_at, sent_at, attempts
		 FROM verification_codes WHERE user_id = ? AND purpose = ?`,
		userID, string(purpose),
	).Scan(&c.ID, &c.UserID, &p, &c.Value, &issuedAt, &expiresAt, &sentAt, &c.Attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: finding code for user %d: %w", userID, err)
	}

	c.Purpose = model.CodePurpose(p)
	c.IssuedAt = fromMillis(issuedAt)
	c.ExpiresAt = fromMillis(expiresAt)
	c.SentAt = fromMillis(sentAt)

	return &c, nil
}

func (db *DB) DeleteCode(ctx context.Context, id string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM verification_codes WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting code %s: %w", id, err)
	}
	return affected(res)
}

// RecordFailedAttempt increments the attempt counter of record id in one
// statement and returns the new count. A record that is gone reports 0.
func (db *DB) RecordFailedAttempt(ctx context.Context, id string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`UPDATE verification_codes SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("sqlite: recording failed attempt on code %s: %w", id, err)
	}
	return n, nil
}

// MarkCodeSent is a compare-and-set on sent_at. Of two concurrent resends
// that both read the same sent_at, exactly one UPDATE matches.
func (db *DB) MarkCodeSent(ctx context.Context, id string, prevSentAt, sentAt time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE verification_codes SET sent_at = ? WHERE id = ? AND sent_at = ?`,
		toMillis(sentAt), id, toMillis(prevSentAt),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: marking code %s sent: %w", id, err)
	}
	return affected(res)
}

func (db *DB) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking delete result: %w", err)
	}
	return n, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking result: %w", err)
	}
	return n > 0, nil
}
