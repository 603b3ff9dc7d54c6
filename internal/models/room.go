package models

import (
	"time"

	"github.com/google/uuid"
)

type RoomKind string

const (
	RoomPublic  RoomKind = "public"
	RoomPrivate RoomKind = "private"
	RoomDirect  RoomKind = "direct"
)

// RoomSettings travels embedded in the rooms row as JSON.
type RoomSettings struct {
	BlockScreenshots bool `json:"block_screenshots"`
	RetentionDays    int  `json:"retention_days"` // 0 = keep forever
	MaxMembers       int  `json:"max_members"`    // 0 = unbounded
}

// Room kind is immutable after creation; there is deliberately no
// update path for it anywhere in the repository layer.
type Room struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Kind      RoomKind     `json:"kind"`
	CreatorID uuid.UUID    `json:"creator_id"`
	Settings  RoomSettings `json:"settings"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
}

func (k RoomKind) Valid() bool {
	switch k {
	case RoomPublic, RoomPrivate, RoomDirect:
		return true
	}
	return false
}
