package models

import (
	"time"

	"github.com/google/uuid"
)

type MemberRole string

const (
	RoleAdmin     MemberRole = "admin"
	RoleModerator MemberRole = "moderator"
	RoleMember    MemberRole = "member"
)

// Member is the (room, user) pair. At most one row exists per pair;
// the repository enforces it with a composite primary key.
type Member struct {
	RoomID        uuid.UUID  `json:"room_id"`
	UserID        uuid.UUID  `json:"user_id"`
	Role          MemberRole `json:"role"`
	JoinedAt      time.Time  `json:"joined_at"`
	IsMuted       bool       `json:"is_muted"`
	MuteExpiresAt *time.Time `json:"mute_expires_at,omitempty"`
	IsOnline      bool       `json:"is_online"`
	LastSeen      time.Time  `json:"last_seen"`
}

// MutedAt reports whether the member's mute is in force at the given
// instant. A mute with no expiry holds until explicitly lifted.
func (m *Member) MutedAt(now time.Time) bool {
	if !m.IsMuted {
		return false
	}
	if m.MuteExpiresAt == nil {
		return true
	}
	return now.Before(*m.MuteExpiresAt)
}

func (r MemberRole) CanModerate() bool {
	return r == RoleAdmin || r == RoleModerator
}
