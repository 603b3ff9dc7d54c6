package models

import (
	"time"

	"github.com/google/uuid"
)

// TypingIndicator is ephemeral state: it lives in the presence store
// with a TTL and on the wire, never in Postgres. An indicator past
// ExpiresAt is treated as absent even if not yet physically removed.
type TypingIndicator struct {
	RoomID    uuid.UUID `json:"room_id"`
	UserID    uuid.UUID `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t *TypingIndicator) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
