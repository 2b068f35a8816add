package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/foxochat/chat-core/internal/apperror"
	"github.com/foxochat/chat-core/internal/model"
	"github.com/foxochat/chat-core/internal/permission"
	"github.com/foxochat/chat-core/internal/repository"
)

var (
	_ repository.ChannelRepository = (*DB)(nil)
	_ repository.MemberRepository  = (*DB)(nil)
)

// CreateChannel inserts channel. The caller assigns channel.ID.
func (db *DB) CreateChannel(ctx context.Context, channel *model.Channel) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO channels (id, name, display_name, type, owner_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		channel.ID,
		channel.Name,
		channel.DisplayName,
		int(channel.Type),
		channel.OwnerID,
		toMillis(channel.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: inserting channel %q: %w", channel.Name, repository.ErrDuplicate)
		}
		return fmt.Errorf("sqlite: inserting channel %q: %w", channel.Name, err)
	}
	return nil
}

func (db *DB) UpdateChannel(ctx context.Context, channel *model.Channel) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE channels SET name = ?, display_name = ? WHERE id = ?`,
		channel.Name, channel.DisplayName, channel.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: updating channel %s: %w", channel.ID, repository.ErrDuplicate)
		}
		return fmt.Errorf("sqlite: updating channel %s: %w", channel.ID, err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("channel", channel.ID)
	}
	return nil
}

// DeleteChannel removes the channel; its members go with it (ON DELETE CASCADE).
func (db *DB) DeleteChannel(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting channel %s: %w", id, err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("channel", id)
	}
	return nil
}

func (db *DB) GetChannelByName(ctx context.Context, name string) (*model.Channel, error) {
	var (
		c         model.Channel
		typ       int
		createdAt int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, display_name, type, owner_id, created_at FROM channels WHERE name = ?`,
		name,
	).Scan(&c.ID, &c.Name, &c.DisplayName, &typ, &c.OwnerID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("channel", name)
		}
		return nil, fmt.Errorf("sqlite: getting channel %q: %w", name, err)
	}
	c.Type = model.ChannelType(typ)
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

// CreateMember inserts a membership and fills in member.ID. A second
// membership for the same (channel, user) is repository.ErrDuplicate.
func (db *DB) CreateMember(ctx context.Context, member *model.Member) error {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO members (channel_id, user_id, permissions, joined_at) VALUES (?, ?, ?, ?)`,
		member.ChannelID,
		member.UserID,
		int64(member.Permissions),
		toMillis(member.JoinedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: inserting member: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("sqlite: inserting member: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new member id: %w", err)
	}
	member.ID = id
	return nil
}

func (db *DB) DeleteMember(ctx context.Context, channelID string, userID int64) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM members WHERE channel_id = ? AND user_id = ?`, channelID, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting member: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("member", strconv.FormatInt(userID, 10))
	}
	return nil
}

const memberQuery = `SELECT m.id, m.channel_id, m.user_id, u.username, m.permissions, m.joined_at
	FROM members m JOIN users u ON u.id = m.user_id`

func (db *DB) GetMember(ctx context.Context, channelID string, userID int64) (*model.Member, error) {
	row := db.conn.QueryRowContext(ctx,
		memberQuery+` WHERE m.channel_id = ? AND m.user_id = ?`, channelID, userID)

	m, err := scanMember(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("member", strconv.FormatInt(userID, 10))
		}
		return nil, fmt.Errorf("sqlite: getting member: %w", err)
	}
	return m, nil
}

func (db *DB) ListMembers(ctx context.Context, channelID string) ([]model.Member, error) {
	rows, err := db.conn.QueryContext(ctx,
		memberQuery+` WHERE m.channel_id = ? ORDER BY m.joined_at, m.id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing members: %w", err)
	}
	defer rows.Close()

	members := []model.Member{}
	for rows.Next() {
		m, err := scanMember(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning member: %w", err)
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating members: %w", err)
	}
	return members, nil
}

// SetMemberPermissions replaces the member's whole mask in one statement.
func (db *DB) SetMemberPermissions(ctx context.Context, channelID string, userID int64, perms permission.Set) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE members SET permissions = ? WHERE channel_id = ? AND user_id = ?`,
		int64(perms), channelID, userID)
	if err != nil {
		return fmt.Errorf("sqlite: setting member permissions: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("member", strconv.FormatInt(userID, 10))
	}
	return nil
}

func scanMember(scan func(dest ...any) error) (*model.Member, error) {
	var (
		m        model.Member
		perms    int64
		joinedAt int64
	)
	if err := scan(&m.ID, &m.ChannelID, &m.UserID, &m.Username, &perms, &joinedAt); err != nil {
		return nil, err
	}
	m.Permissions = permission.Set(perms)
	m.JoinedAt = fromMillis(joinedAt)
	return &m, nil
}
