package types

import (
	"time"

	"vanish-chat/internal/models"

	"github.com/google/uuid"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserDTO struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateRoomRequest struct {
	Name     string              `json:"name"`
	Kind     models.RoomKind     `json:"kind"`
	Settings models.RoomSettings `json:"settings"`
}

type RoomDTO struct {
	ID        uuid.UUID           `json:"id"`
	Name      string              `json:"name"`
	Kind      models.RoomKind     `json:"kind"`
	Settings  models.RoomSettings `json:"settings"`
	CreatedAt time.Time           `json:"created_at"`
}

type MemberDTO struct {
	UserID   uuid.UUID         `json:"user_id"`
	Role     models.MemberRole `json:"role"`
	IsOnline bool              `json:"is_online"`
	LastSeen time.Time         `json:"last_seen"`
}

type MuteRequest struct {
	UserID uuid.UUID  `json:"user_id"`
	Muted  bool       `json:"muted"`
	Until  *time.Time `json:"until,omitempty"`
}
