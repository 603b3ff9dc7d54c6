package service

import (
	"context"
	"log"
	"time"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"
	"vanish-chat/internal/notify"
	"vanish-chat/internal/realtime"
	"vanish-chat/internal/repository"
	"vanish-chat/internal/timer"

	"github.com/google/uuid"
)

const previewLength = 80

// SendInput carries everything a send needs. Media must already be
// resolved by the upload collaborator when Kind != text.
type SendInput struct {
	RoomID        uuid.UUID
	SenderID      uuid.UUID
	Content       string
	Kind          models.MessageKind
	Media         *models.MediaRef
	TimerDuration int
	ReplyToID     *uuid.UUID
}

// MessageService owns the message lifecycle: composing → sent →
// delivered → expired/deleted. Delivery itself is the transport's
// receipt of the insert event; the service's contract ends at "row
// persisted, event published".
type MessageService struct {
	rooms     repository.RoomRepository
	members   repository.MemberRepository
	messages  repository.MessageRepository
	views     repository.MessageViewRepository
	transport realtime.Transport
	notifier  notify.Enqueuer

	now func() time.Time
}

func NewMessageService(
	rooms repository.RoomRepository,
	members repository.MemberRepository,
	messages repository.MessageRepository,
	views repository.MessageViewRepository,
	transport realtime.Transport,
	notifier notify.Enqueuer,
) *MessageService {
	return &MessageService{
		rooms:     rooms,
		members:   members,
		messages:  messages,
		views:     views,
		transport: transport,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Send validates, persists and announces a message. Store failures
// surface as transient errors so the caller can re-offer the composed
// content; nothing is silently dropped.
func (s *MessageService) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	if err := validateSend(in); err != nil {
		return nil, err
	}

	room, err := s.rooms.GetByID(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, errs.Forbidden("room %s is inactive", room.ID)
	}

	now := s.now()

	member, err := s.members.Get(ctx, in.RoomID, in.SenderID)
	if err != nil {
		if errs.IsTransient(err) {
			return nil, err
		}
		return nil, errs.Forbidden("sender %s is not a member of room %s", in.SenderID, in.RoomID)
	}
	if member.MutedAt(now) {
		return nil, errs.Forbidden("sender %s is muted in room %s", in.SenderID, in.RoomID)
	}

	msg := &models.Message{
		ID:            uuid.New(),
		RoomID:        in.RoomID,
		SenderID:      in.SenderID,
		Content:       in.Content,
		Kind:          in.Kind,
		Media:         in.Media,
		TimerDuration: in.TimerDuration,
		ExpiresAt:     timer.ExpiresAt(now, in.TimerDuration),
		ReplyToID:     in.ReplyToID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.messages.Save(ctx, msg); err != nil {
		return nil, err
	}

	// Re-read for resolved projections (sender name, reply preview).
	persisted, err := s.messages.GetByID(ctx, msg.ID)
	if err != nil {
		log.Printf("[MESSAGE] Saved %s but projection fetch failed: %v", msg.ID, err)
		persisted = msg
	}

	s.publishMessage(ctx, realtime.EventInsert, persisted)
	s.enqueueNotify(ctx, room, persisted)

	return persisted, nil
}

// RecordView is idempotent per (message, viewer); repeat views only
// accumulate duration. The first view by a non-sender expires a
// view-once message for everyone — preserved behavior of the product
// this replaces, see DESIGN.md.
func (s *MessageService) RecordView(ctx context.Context, messageID, viewerID uuid.UUID, duration int) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		// Already gone; a late or duplicate view report is a no-op.
		return nil
	}
	if duration < 0 {
		return errs.Invalid("view duration %d", duration)
	}

	_, err = s.views.Record(ctx, &models.MessageView{
		MessageID:    messageID,
		ViewerID:     viewerID,
		ViewedAt:     s.now(),
		ViewDuration: duration,
	})
	if err != nil {
		return err
	}

	if msg.TimerDuration == models.TimerViewOnce && viewerID != msg.SenderID {
		s.expireMessage(ctx, messageID, msg.RoomID, "view-once consumed")
	}

	return nil
}

// Delete soft-deletes; the row stays for reply chains and audit.
func (s *MessageService) Delete(ctx context.Context, messageID, requesterID uuid.UUID) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return errs.Forbidden("only the sender may delete message %s", messageID)
	}
	if msg.IsDeleted {
		return nil
	}

	marked, err := s.messages.MarkDeleted(ctx, messageID)
	if err != nil {
		return err
	}
	if marked {
		s.publishTombstone(ctx, messageID, msg.RoomID)
	}

	return nil
}

// LoadPage fetches a contiguous older page, newest first. The zero
// cursor loads the newest page.
func (s *MessageService) LoadPage(ctx context.Context, roomID uuid.UUID, cursor repository.PageCursor, limit int) ([]*models.Message, error) {
	return s.messages.FetchPage(ctx, roomID, cursor, limit)
}

// Sweep retires every message whose fixed timer or room retention has
// lapsed. Safe to run concurrently: the mark is a conditional update,
// so each expired row is announced by exactly one sweeper.
func (s *MessageService) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.messages.MarkExpiredDue(ctx, now)
	if err != nil {
		return 0, err
	}

	retired, err := s.messages.MarkRetentionDue(ctx, now)
	if err != nil {
		return len(expired), err
	}
	expired = append(expired, retired...)

	for _, e := range expired {
		s.publishTombstone(ctx, e.ID, e.RoomID)
	}

	if len(expired) > 0 {
		log.Printf("[SWEEP] Retired %d expired messages", len(expired))
	}
	return len(expired), nil
}

func validateSend(in SendInput) error {
	if !in.Kind.Valid() {
		return errs.Invalid("message kind %q", in.Kind)
	}
	if in.Kind == models.KindText && in.Content == "" {
		return errs.Invalid("empty text message")
	}
	if in.Kind != models.KindText && in.Media == nil {
		return errs.Invalid("%s message without media", in.Kind)
	}
	if in.TimerDuration < models.TimerViewOnce {
		return errs.Invalid("timer duration %d", in.TimerDuration)
	}
	return nil
}

// expireMessage marks and announces expiry. The conditional mark makes
// the announcement exactly-once even when two viewers race.
func (s *MessageService) expireMessage(ctx context.Context, messageID, roomID uuid.UUID, reason string) {
	marked, err := s.messages.MarkDeleted(ctx, messageID)
	if err != nil {
		log.Printf("[MESSAGE] Failed to expire %s (%s): %v", messageID, reason, err)
		return
	}
	if marked {
		log.Printf("[MESSAGE] Expired %s (%s)", messageID, reason)
		s.publishTombstone(ctx, messageID, roomID)
	}
}

func (s *MessageService) publishMessage(ctx context.Context, kind realtime.EventKind, msg *models.Message) {
	topic := realtime.TopicRoomMessages(msg.RoomID)
	event, err := realtime.NewEvent(topic, kind, msg)
	if err != nil {
		log.Printf("[MESSAGE] Failed to encode %s event for %s: %v", kind, msg.ID, err)
		return
	}
	if err := s.transport.Publish(ctx, topic, event); err != nil {
		// The row is persisted; subscribers converge on next reload.
		log.Printf("[MESSAGE] Failed to publish %s event for %s: %v", kind, msg.ID, err)
	}
}

func (s *MessageService) publishTombstone(ctx context.Context, messageID, roomID uuid.UUID) {
	s.publishMessage(ctx, realtime.EventDelete, &models.Message{
		ID:        messageID,
		RoomID:    roomID,
		IsDeleted: true,
	})
}

func (s *MessageService) enqueueNotify(ctx context.Context, room *models.Room, msg *models.Message) {
	if s.notifier == nil {
		return
	}

	members, err := s.members.List(ctx, room.ID)
	if err != nil {
		log.Printf("[MESSAGE] Skipping notification for %s: %v", msg.ID, err)
		return
	}

	var recipients []uuid.UUID
	for _, m := range members {
		if m.UserID != msg.SenderID {
			recipients = append(recipients, m.UserID)
		}
	}

	err = s.notifier.MessageSent(ctx, notify.RoomMessagePayload{
		RoomID:     room.ID,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		Recipients: recipients,
		Preview:    preview(msg),
	})
	if err != nil {
		log.Printf("[MESSAGE] Notification enqueue failed for %s: %v", msg.ID, err)
	}
}

func preview(msg *models.Message) string {
	switch msg.Kind {
	case models.KindImage:
		return "📷 Photo"
	case models.KindGif:
		return "GIF"
	case models.KindFile:
		return "📎 File"
	}
	// Truncate on rune boundaries so multibyte text is never split
	// mid-sequence.
	runes := []rune(msg.Content)
	if len(runes) > previewLength {
		return string(runes[:previewLength]) + "…"
	}
	return msg.Content
}
