// Package realtime is the fan-out channel between the durable store's
// mutation path and connected room sessions. Delivery is at-least-once
// and unordered across topics; every consumer must dedupe by id and
// treat events as idempotent upserts.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventInsert   EventKind = "insert"
	EventUpdate   EventKind = "update"
	EventDelete   EventKind = "delete"
	EventTyping   EventKind = "typing"
	EventPresence EventKind = "presence"
)

// Event is one change notification. Payload is the changed row (or the
// ephemeral signal) encoded as JSON.
type Event struct {
	Topic   string          `json:"topic"`
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type Handler func(Event)

// Unsubscribe tears down one subscription. Safe to call twice.
type Unsubscribe func()

type Transport interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(topic string, handler Handler) (Unsubscribe, error)
	Close() error
}

func TopicRoomMessages(roomID uuid.UUID) string {
	return fmt.Sprintf("room-messages:%s", roomID)
}

func TopicRoomMembers(roomID uuid.UUID) string {
	return fmt.Sprintf("room-members:%s", roomID)
}

func TopicRoomTyping(roomID uuid.UUID) string {
	return fmt.Sprintf("room-typing:%s", roomID)
}

// NewEvent marshals payload and stamps the topic. Marshal failures are
// programming errors on our own model types, surfaced loudly.
func NewEvent(topic string, kind EventKind, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("realtime: encode %s event: %w", kind, err)
	}
	return Event{Topic: topic, Kind: kind, Payload: raw}, nil
}
