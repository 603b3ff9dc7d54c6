// Package presence tracks per-room typing indicators and online state.
// Typing state deliberately never touches the message path in Postgres:
// it is high frequency, low value, and allowed to be lost. It lives in
// a TTL store and on the realtime transport only.
package presence

import (
	"context"
	"time"

	"vanish-chat/internal/models"

	"github.com/google/uuid"
)

// Store is the TTL-backed home for typing indicators. Implementations
// must treat entries past their TTL as absent even before physical
// removal, and must be safe for concurrent use.
type Store interface {
	// SetTyping upserts the indicator for (room, user); a fresh call
	// replaces the previous window.
	SetTyping(ctx context.Context, ind models.TypingIndicator, ttl time.Duration) error
	ClearTyping(ctx context.Context, roomID, userID uuid.UUID) error
	// ListTyping returns live indicators for the room, at most one per
	// user.
	ListTyping(ctx context.Context, roomID uuid.UUID) ([]models.TypingIndicator, error)
}
