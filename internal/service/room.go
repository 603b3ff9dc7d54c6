package service

import (
	"context"
	"log"
	"time"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"
	"vanish-chat/internal/realtime"
	"vanish-chat/internal/repository"

	"github.com/google/uuid"
)

type CreateRoomInput struct {
	Name      string
	Kind      models.RoomKind
	CreatorID uuid.UUID
	Settings  models.RoomSettings
}

// RoomService owns room and membership flows. Membership changes are
// announced on the room-members topic.
type RoomService struct {
	rooms     repository.RoomRepository
	members   repository.MemberRepository
	transport realtime.Transport

	now func() time.Time
}

func NewRoomService(rooms repository.RoomRepository, members repository.MemberRepository, transport realtime.Transport) *RoomService {
	return &RoomService{
		rooms:     rooms,
		members:   members,
		transport: transport,
		now:       time.Now,
	}
}

// Create persists the room and seats the creator as admin. Kind is
// immutable from here on.
func (s *RoomService) Create(ctx context.Context, in CreateRoomInput) (*models.Room, error) {
	if in.Name == "" {
		return nil, errs.Invalid("empty room name")
	}
	if !in.Kind.Valid() {
		return nil, errs.Invalid("room kind %q", in.Kind)
	}
	if in.Settings.MaxMembers < 0 || in.Settings.RetentionDays < 0 {
		return nil, errs.Invalid("negative room limits")
	}

	room := &models.Room{
		ID:        uuid.New(),
		Name:      in.Name,
		Kind:      in.Kind,
		CreatorID: in.CreatorID,
		Settings:  in.Settings,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}

	if _, err := s.members.Join(ctx, room.ID, in.CreatorID, models.RoleAdmin); err != nil {
		log.Printf("[ROOM] Created %s but failed to seat creator: %v", room.ID, err)
		return nil, err
	}

	log.Printf("[ROOM] Created %s room %s (%s)", room.Kind, room.Name, room.ID)
	return room, nil
}

// Join ensures a membership row, capped by the room's max_members.
// Re-joining is idempotent, not an error.
func (s *RoomService) Join(ctx context.Context, roomID, userID uuid.UUID) (*models.Room, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, errs.Forbidden("room %s is inactive", roomID)
	}

	created, err := s.members.Join(ctx, roomID, userID, models.RoleMember)
	if err != nil {
		return nil, err
	}

	if created {
		member, err := s.members.Get(ctx, roomID, userID)
		if err == nil {
			s.publishMember(ctx, realtime.EventInsert, member)
		}
		log.Printf("[ROOM] %s joined room %s", userID, roomID)
	}

	return room, nil
}

// Leave removes the membership row. Only explicit leaves come through
// here; transient disconnects never do.
func (s *RoomService) Leave(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := s.members.Leave(ctx, roomID, userID); err != nil {
		return err
	}

	s.publishMember(ctx, realtime.EventDelete, &models.Member{
		RoomID: roomID,
		UserID: userID,
	})
	log.Printf("[ROOM] %s left room %s", userID, roomID)
	return nil
}

func (s *RoomService) Members(ctx context.Context, roomID uuid.UUID) ([]*models.Member, error) {
	return s.members.List(ctx, roomID)
}

// Mute silences a member until the given expiry (nil = indefinite).
// Requires a moderator or admin acting on a non-admin target.
func (s *RoomService) Mute(ctx context.Context, roomID, actorID, targetID uuid.UUID, muted bool, until *time.Time) error {
	actor, err := s.members.Get(ctx, roomID, actorID)
	if err != nil {
		return err
	}
	if !actor.Role.CanModerate() {
		return errs.Forbidden("%s may not moderate room %s", actorID, roomID)
	}

	target, err := s.members.Get(ctx, roomID, targetID)
	if err != nil {
		return err
	}
	if target.Role == models.RoleAdmin {
		return errs.Forbidden("admins cannot be muted")
	}

	if err := s.members.SetMute(ctx, roomID, targetID, muted, until); err != nil {
		return err
	}

	target.IsMuted = muted
	target.MuteExpiresAt = until
	s.publishMember(ctx, realtime.EventUpdate, target)
	return nil
}

func (s *RoomService) publishMember(ctx context.Context, kind realtime.EventKind, member *models.Member) {
	topic := realtime.TopicRoomMembers(member.RoomID)
	event, err := realtime.NewEvent(topic, kind, member)
	if err != nil {
		log.Printf("[ROOM] Failed to encode member event: %v", err)
		return
	}
	if err := s.transport.Publish(ctx, topic, event); err != nil {
		log.Printf("[ROOM] Failed to publish member event for room %s: %v", member.RoomID, err)
	}
}
