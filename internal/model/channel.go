package model

import (
	"time"

	"github.com/foxochat/chat-core/internal/permission"
)

// ChannelType distinguishes group chats from broadcast channels.
type ChannelType int

const (
	ChannelTypeGroup   ChannelType = 1
	ChannelTypeChannel ChannelType = 2
)

// Channel is a named conversation. Name is unique and lower-case.
type Channel struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	DisplayName string      `json:"displayName"`
	Type        ChannelType `json:"type"`
	OwnerID     int64       `json:"ownerId"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Member is a user's relationship to a channel. Permissions is the member's
// bitmask; see package permission for the bits and the checks.
type Member struct {
	ID          int64          `json:"id"`
	ChannelID   string         `json:"channelId"`
	UserID      int64          `json:"userId"`
	Username    string         `json:"username"`
	Permissions permission.Set `json:"permissions"`
	JoinedAt    time.Time      `json:"joinedAt"`
}
