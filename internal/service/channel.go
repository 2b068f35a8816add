package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/foxochat/chat-core/internal/apperror"
	"github.com/foxochat/chat-core/internal/model"
	"github.com/foxochat/chat-core/internal/permission"
	"github.com/foxochat/chat-core/internal/repository"
)

// ChannelService handles channels and memberships.
//
// Every privileged mutation loads the actor's membership and passes its
// permission mask through permission.Require or permission.RequireAny
// before touching the store. A user who is not a member holds no
// permissions at all.
type ChannelService struct {
	channels repository.ChannelRepository
	members  repository.MemberRepository
	logger   *slog.Logger
	now      func() time.Time
}

func NewChannelService(channels repository.ChannelRepository, members repository.MemberRepository, logger *slog.Logger) *ChannelService {
	return &ChannelService{
		channels: channels,
		members:  members,
		logger:   logger,
		now:      time.Now,
	}
}

// ChannelInput is the editable part of a channel.
type ChannelInput struct {
	Name        string
	DisplayName string
	Type        model.ChannelType
}

// Create makes a channel owned by user and adds user as its first member,
// holding Admin.
func (s *ChannelService) Create(ctx context.Context, user *model.User, in ChannelInput) (*model.Channel, error) {
	name := strings.ToLower(strings.TrimSpace(in.Name))
	if err := validateChannelName(name); err != nil {
		return nil, err
	}
	if err := validateDisplayName(in.DisplayName); err != nil {
		return nil, err
	}
	if in.Type != model.ChannelTypeGroup && in.Type != model.ChannelTypeChannel {
		return nil, apperror.ValidationFailed("type", "type must be 1 (group) or 2 (channel)")
	}

	now := s.now().UTC()
	ch := &model.Channel{
		ID:          xid.New().String(),
		Name:        name,
		DisplayName: in.DisplayName,
		Type:        in.Type,
		OwnerID:     user.ID,
		CreatedAt:   now,
	}
	if err := s.channels.CreateChannel(ctx, ch); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperror.Conflict("channel", name)
		}
		return nil, fmt.Errorf("service/channel: creating channel: %w", err)
	}

	owner := &model.Member{
		ChannelID:   ch.ID,
		UserID:      user.ID,
		Permissions: permission.Of(permission.Admin),
		JoinedAt:    now,
	}
	if err := s.members.CreateMember(ctx, owner); err != nil {
		if derr := s.channels.DeleteChannel(ctx, ch.ID); derr != nil {
			s.logger.Error("failed to remove channel without owner",
				slog.String("channelID", ch.ID),
				slog.String("error", derr.Error()),
			)
		}
		return nil, fmt.Errorf("service/channel: adding owner to %s: %w", ch.ID, err)
	}

	s.logger.Info("channel created",
		slog.String("channelID", ch.ID),
		slog.String("name", ch.Name),
		slog.Int64("ownerID", user.ID),
	)
	return ch, nil
}

func (s *ChannelService) Get(ctx context.Context, name string) (*model.Channel, error) {
	ch, err := s.channels.GetChannelByName(ctx, strings.ToLower(name))
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Edit renames a channel or changes its display name. Requires Admin or
// ManageChannel.
func (s *ChannelService) Edit(ctx context.Context, user *model.User, name string, in ChannelInput) (*model.Channel, error) {
	ch, actor, err := s.channelAndActor(ctx, user, name)
	if err != nil {
		return nil, err
	}
	if err := permission.RequireAny(actor.Permissions, permission.ManageChannel); err != nil {
		return nil, err
	}

	updated := *ch
	if in.Name != "" {
		newName := strings.ToLower(strings.TrimSpace(in.Name))
		if err := validateChannelName(newName); err != nil {
			return nil, err
		}
		updated.Name = newName
	}
	if in.DisplayName != "" {
		if err := validateDisplayName(in.DisplayName); err != nil {
			return nil, err
		}
		updated.DisplayName = in.DisplayName
	}

	if err := s.channels.UpdateChannel(ctx, &updated); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperror.Conflict("channel", updated.Name)
		}
		return nil, fmt.Errorf("service/channel: updating %s: %w", ch.ID, err)
	}

	s.logger.Info("channel edited", slog.String("channelID", ch.ID), slog.Int64("userID", user.ID))
	return &updated, nil
}

// Delete removes a channel and all its memberships. Requires Admin.
func (s *ChannelService) Delete(ctx context.Context, user *model.User, name string) error {
	ch, actor, err := s.channelAndActor(ctx, user, name)
	if err != nil {
		return err
	}
	if err := permission.Require(actor.Permissions, permission.Admin); err != nil {
		return err
	}

	if err := s.channels.DeleteChannel(ctx, ch.ID); err != nil {
		return fmt.Errorf("service/channel: deleting %s: %w", ch.ID, err)
	}

	s.logger.Info("channel deleted", slog.String("channelID", ch.ID), slog.Int64("userID", user.ID))
	return nil
}

// Join adds user to the channel with the default permissions. Joining twice
// is a Conflict.
func (s *ChannelService) Join(ctx context.Context, user *model.User, name string) (*model.Member, error) {
	ch, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	m := &model.Member{
		ChannelID:   ch.ID,
		UserID:      user.ID,
		Username:    user.Username,
		Permissions: permission.Default,
		JoinedAt:    s.now().UTC(),
	}
	if err := s.members.CreateMember(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperror.Conflict("member", user.Username)
		}
		return nil, fmt.Errorf("service/channel: joining %s: %w", ch.ID, err)
	}

	s.logger.Info("member joined", slog.String("channelID", ch.ID), slog.Int64("userID", user.ID))
	return m, nil
}

// Leave removes user from the channel. Leaving a channel the user is not in
// is NotFound.
func (s *ChannelService) Leave(ctx context.Context, user *model.User, name string) error {
	ch, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := s.members.DeleteMember(ctx, ch.ID, user.ID); err != nil {
		return err
	}

	s.logger.Info("member left", slog.String("channelID", ch.ID), slog.Int64("userID", user.ID))
	return nil
}

func (s *ChannelService) Members(ctx context.Context, name string) ([]model.Member, error) {
	ch, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	members, err := s.members.ListMembers(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("service/channel: listing members of %s: %w", ch.ID, err)
	}
	return members, nil
}

func (s *ChannelService) Member(ctx context.Context, name string, userID int64) (*model.Member, error) {
	ch, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.members.GetMember(ctx, ch.ID, userID)
}

// SetMemberPermissions replaces a member's whole mask with perms. Requires
// Admin or ManageMembers. An actor without Admin can only grant permissions
// they hold themselves, and cannot change the mask of an Admin.
func (s *ChannelService) SetMemberPermissions(ctx context.Context, user *model.User, name string, targetID int64, perms permission.Set) (*model.Member, error) {
	ch, actor, err := s.channelAndActor(ctx, user, name)
	if err != nil {
		return nil, err
	}
	if err := permission.RequireAny(actor.Permissions, permission.ManageMembers); err != nil {
		return nil, err
	}

	target, err := s.members.GetMember(ctx, ch.ID, targetID)
	if err != nil {
		return nil, err
	}

	if !actor.Permissions.Has(permission.Admin) {
		if target.Permissions.Has(permission.Admin) || !actor.Permissions.HasAll(perms.List()...) {
			return nil, apperror.MissingPermissions()
		}
	}

	if err := s.members.SetMemberPermissions(ctx, ch.ID, targetID, perms); err != nil {
		return nil, fmt.Errorf("service/channel: setting permissions in %s: %w", ch.ID, err)
	}
	target.Permissions = perms

	s.logger.Info("member permissions changed",
		slog.String("channelID", ch.ID),
		slog.Int64("actorID", user.ID),
		slog.Int64("targetID", targetID),
		slog.Uint64("permissions", uint64(perms)),
	)
	return target, nil
}

// channelAndActor loads the channel and the caller's membership in it. A
// caller who is not a member fails with MissingPermissions.
func (s *ChannelService) channelAndActor(ctx context.Context, user *model.User, name string) (*model.Channel, *model.Member, error) {
	ch, err := s.Get(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	actor, err := s.members.GetMember(ctx, ch.ID, user.ID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, apperror.MissingPermissions()
		}
		return nil, nil, fmt.Errorf("service/channel: loading membership in %s: %w", ch.ID, err)
	}
	return ch, actor, nil
}
