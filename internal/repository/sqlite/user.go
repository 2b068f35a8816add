package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/foxochat/chat-core/internal/apperror"
	"github.com/foxochat/chat-core/internal/model"
	"github.com/foxochat/chat-core/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, display_name, email, password_hash, flags, created_at, deletion_at`

// CreateUser inserts a new user and fills in user.ID.
//
// Username and email uniqueness is enforced by the table itself; a collision
// comes back as repository.ErrDuplicate. There is no SELECT-then-INSERT, so
// two concurrent registrations for the same email cannot both succeed.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (username, display_name, email, password_hash, flags, created_at, deletion_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Username,
		user.DisplayName,
		user.Email,
		user.PasswordHash,
		int64(user.Flags),
		toMillis(user.CreatedAt),
		nullableMillis(user),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: inserting user: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new user id: %w", err)
	}
	user.ID = id

	return nil
}

// UpdateUserFlags rewrites only the flags column, computing the new value
// from the stored one. A concurrent password change is never overwritten.
func (db *DB) UpdateUserFlags(ctx context.Context, id int64, set, clear model.UserFlag) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`UPDATE users SET flags = (flags & ~?) | ? WHERE id = ? RETURNING `+userColumns,
		int64(clear), int64(set), id)
	return scanUser(row, strconv.FormatInt(id, 10))
}

// UpdateUserPassword sets password_hash and clears flag bits in one
// statement. Bits set concurrently by another writer survive.
func (db *DB) UpdateUserPassword(ctx context.Context, id int64, passwordHash string, clear model.UserFlag) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`UPDATE users SET password_hash = ?, flags = flags & ~? WHERE id = ? RETURNING `+userColumns,
		passwordHash, int64(clear), id)
	return scanUser(row, strconv.FormatInt(id, 10))
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row, strconv.FormatInt(id, 10))
}

// GetUserByEmail matches case-insensitively (the column is COLLATE NOCASE).
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row, email)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row, username)
}

func scanUser(row *sql.Row, key string) (*model.User, error) {
	var (
		u         model.User
		flags     int64
		createdAt int64
		deletion  sql.NullInt64
	)

	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.DisplayName,
		&u.Email,
		&u.PasswordHash,
		&flags,
		&createdAt,
		&deletion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", key, err)
	}

	u.Flags = model.UserFlag(flags)
	u.CreatedAt = fromMillis(createdAt)
	if deletion.Valid {
		t := fromMillis(deletion.Int64)
		u.DeletionAt = &t
	}

	return &u, nil
}

func nullableMillis(u *model.User) sql.NullInt64 {
	if u.DeletionAt == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*u.DeletionAt), Valid: true}
}
