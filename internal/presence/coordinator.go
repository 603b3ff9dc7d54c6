package presence

import (
	"context"
	"log"
	"time"

	"vanish-chat/internal/models"
	"vanish-chat/internal/realtime"
	"vanish-chat/internal/repository"

	"github.com/google/uuid"
)

const DefaultTypingTTL = 10 * time.Second

// Coordinator owns typing indicators and online state for rooms.
type Coordinator struct {
	store     Store
	members   repository.MemberRepository
	transport realtime.Transport
	ttl       time.Duration
}

func NewCoordinator(store Store, members repository.MemberRepository, transport realtime.Transport, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Coordinator{
		store:     store,
		members:   members,
		transport: transport,
		ttl:       ttl,
	}
}

// SetTyping upserts the indicator; repeated calls just extend the
// window. The transport publish is best-effort — a lost typing signal
// is never retried.
func (c *Coordinator) SetTyping(ctx context.Context, roomID, userID uuid.UUID) error {
	now := time.Now()
	ind := models.TypingIndicator{
		RoomID:    roomID,
		UserID:    userID,
		StartedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	if err := c.store.SetTyping(ctx, ind, c.ttl); err != nil {
		return err
	}

	c.publishTyping(ctx, ind)
	return nil
}

// ClearTyping removes the indicator, called on send or input blur. A
// missed clear is harmless: the TTL lapses the indicator anyway.
func (c *Coordinator) ClearTyping(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := c.store.ClearTyping(ctx, roomID, userID); err != nil {
		return err
	}

	// An already-expired indicator tells subscribers to drop the entry.
	now := time.Now()
	c.publishTyping(ctx, models.TypingIndicator{
		RoomID:    roomID,
		UserID:    userID,
		StartedAt: now,
		ExpiresAt: now,
	})
	return nil
}

// ListTyping returns live indicators, at most one per user even if the
// transport delivered duplicates into the store.
func (c *Coordinator) ListTyping(ctx context.Context, roomID uuid.UUID, now time.Time) ([]models.TypingIndicator, error) {
	all, err := c.store.ListTyping(ctx, roomID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(all))
	live := all[:0]
	for _, ind := range all {
		if ind.ExpiredAt(now) || seen[ind.UserID] {
			continue
		}
		seen[ind.UserID] = true
		live = append(live, ind)
	}
	return live, nil
}

// SetOnline flips the member record's flag. Last writer wins; last_seen
// is monotonic at the store level.
func (c *Coordinator) SetOnline(ctx context.Context, userID uuid.UUID, online bool) error {
	return c.members.SetOnline(ctx, userID, online, time.Now())
}

func (c *Coordinator) publishTyping(ctx context.Context, ind models.TypingIndicator) {
	topic := realtime.TopicRoomTyping(ind.RoomID)
	event, err := realtime.NewEvent(topic, realtime.EventTyping, ind)
	if err != nil {
		log.Printf("[PRESENCE] Failed to encode typing event: %v", err)
		return
	}
	if err := c.transport.Publish(ctx, topic, event); err != nil {
		log.Printf("[PRESENCE] Typing signal dropped for %s in room %s: %v", ind.UserID, ind.RoomID, err)
	}
}
