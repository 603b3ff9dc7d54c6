// Package fakes holds in-memory repository implementations used by
// service and session tests in place of Postgres.
package fakes

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"
	"vanish-chat/internal/repository"

	"github.com/google/uuid"
)

// RoomRepo is an in-memory repository.RoomRepository.
type RoomRepo struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*models.Room
}

var _ repository.RoomRepository = (*RoomRepo)(nil)

func NewRoomRepo() *RoomRepo {
	return &RoomRepo{rooms: make(map[uuid.UUID]*models.Room)}
}

func (r *RoomRepo) Create(_ context.Context, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room.IsActive = true
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	cp := *room
	r.rooms[room.ID] = &cp
	return nil
}

func (r *RoomRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, errs.NotFound("room %s", id)
	}
	cp := *room
	return &cp, nil
}

func (r *RoomRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return errs.NotFound("room %s", id)
	}
	room.IsActive = false
	return nil
}

type memberKey struct {
	room uuid.UUID
	user uuid.UUID
}

// MemberRepo is an in-memory repository.MemberRepository enforcing the
// same max_members cap as the Postgres implementation.
type MemberRepo struct {
	mu      sync.Mutex
	rooms   *RoomRepo
	members map[memberKey]*models.Member
}

var _ repository.MemberRepository = (*MemberRepo)(nil)

func NewMemberRepo(rooms *RoomRepo) *MemberRepo {
	return &MemberRepo{rooms: rooms, members: make(map[memberKey]*models.Member)}
}

func (r *MemberRepo) Join(ctx context.Context, roomID, userID uuid.UUID, role models.MemberRole) (bool, error) {
	room, err := r.rooms.GetByID(ctx, roomID)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := memberKey{roomID, userID}
	if _, ok := r.members[key]; ok {
		return false, nil
	}

	if max := room.Settings.MaxMembers; max > 0 {
		count := 0
		for k := range r.members {
			if k.room == roomID {
				count++
			}
		}
		if count >= max {
			return false, errs.ErrRoomFull
		}
	}

	r.members[key] = &models.Member{
		RoomID:   roomID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now(),
		LastSeen: time.Now(),
	}
	return true, nil
}

func (r *MemberRepo) Leave(_ context.Context, roomID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memberKey{roomID, userID}
	if _, ok := r.members[key]; !ok {
		return errs.NotFound("member %s in room %s", userID, roomID)
	}
	delete(r.members, key)
	return nil
}

func (r *MemberRepo) Get(_ context.Context, roomID, userID uuid.UUID) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberKey{roomID, userID}]
	if !ok {
		return nil, errs.NotFound("member %s in room %s", userID, roomID)
	}
	cp := *m
	return &cp, nil
}

func (r *MemberRepo) List(_ context.Context, roomID uuid.UUID) ([]*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Member
	for k, m := range r.members {
		if k.room == roomID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *MemberRepo) Count(_ context.Context, roomID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for k := range r.members {
		if k.room == roomID {
			count++
		}
	}
	return count, nil
}

func (r *MemberRepo) SetMute(_ context.Context, roomID, userID uuid.UUID, muted bool, until *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberKey{roomID, userID}]
	if !ok {
		return errs.NotFound("member %s in room %s", userID, roomID)
	}
	m.IsMuted = muted
	m.MuteExpiresAt = until
	return nil
}

func (r *MemberRepo) SetOnline(_ context.Context, userID uuid.UUID, online bool, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.UserID == userID {
			m.IsOnline = online
			if seenAt.After(m.LastSeen) {
				m.LastSeen = seenAt
			}
		}
	}
	return nil
}

// MessageRepo is an in-memory repository.MessageRepository.
type MessageRepo struct {
	mu       sync.Mutex
	rooms    *RoomRepo
	messages map[uuid.UUID]*models.Message
}

var _ repository.MessageRepository = (*MessageRepo)(nil)

func NewMessageRepo(rooms *RoomRepo) *MessageRepo {
	return &MessageRepo{rooms: rooms, messages: make(map[uuid.UUID]*models.Message)}
}

func (r *MessageRepo) Save(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[m.ID]; ok {
		return nil
	}
	cp := *m
	r.messages[m.ID] = &cp
	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, errs.NotFound("message %s", id)
	}
	cp := *m
	return &cp, nil
}

func (r *MessageRepo) FetchPage(_ context.Context, roomID uuid.UUID, cursor repository.PageCursor, limit int) ([]*models.Message, error) {
	if cursor.Before.IsZero() {
		cursor.Before = time.Now()
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var page []*models.Message
	for _, m := range r.messages {
		if m.RoomID != roomID || m.IsDeleted || !beforeCursor(m, cursor) {
			continue
		}
		if m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
			continue
		}
		cp := *m
		page = append(page, &cp)
	}
	sort.Slice(page, func(i, j int) bool {
		if !page[i].CreatedAt.Equal(page[j].CreatedAt) {
			return page[i].CreatedAt.After(page[j].CreatedAt)
		}
		return bytes.Compare(page[i].ID[:], page[j].ID[:]) > 0
	})
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func beforeCursor(m *models.Message, cursor repository.PageCursor) bool {
	if m.CreatedAt.Before(cursor.Before) {
		return true
	}
	return m.CreatedAt.Equal(cursor.Before) && bytes.Compare(m.ID[:], cursor.BeforeID[:]) < 0
}

func (r *MessageRepo) MarkDeleted(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.IsDeleted {
		return false, nil
	}
	m.IsDeleted = true
	m.UpdatedAt = time.Now()
	return true, nil
}

func (r *MessageRepo) MarkExpiredDue(_ context.Context, now time.Time) ([]repository.ExpiredMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []repository.ExpiredMessage
	for _, m := range r.messages {
		if m.IsDeleted || m.ExpiresAt == nil || m.ExpiresAt.After(now) {
			continue
		}
		m.IsDeleted = true
		m.UpdatedAt = now
		expired = append(expired, repository.ExpiredMessage{ID: m.ID, RoomID: m.RoomID})
	}
	return expired, nil
}

func (r *MessageRepo) MarkRetentionDue(ctx context.Context, now time.Time) ([]repository.ExpiredMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []repository.ExpiredMessage
	for _, m := range r.messages {
		if m.IsDeleted {
			continue
		}
		room, ok := r.rooms.rooms[m.RoomID]
		if !ok || room.Settings.RetentionDays <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -room.Settings.RetentionDays)
		if m.CreatedAt.Before(cutoff) {
			m.IsDeleted = true
			m.UpdatedAt = now
			expired = append(expired, repository.ExpiredMessage{ID: m.ID, RoomID: m.RoomID})
		}
	}
	return expired, nil
}

type viewKey struct {
	message uuid.UUID
	viewer  uuid.UUID
}

// ViewRepo is an in-memory repository.MessageViewRepository.
type ViewRepo struct {
	mu    sync.Mutex
	views map[viewKey]*models.MessageView
}

var _ repository.MessageViewRepository = (*ViewRepo)(nil)

func NewViewRepo() *ViewRepo {
	return &ViewRepo{views: make(map[viewKey]*models.MessageView)}
}

func (r *ViewRepo) Record(_ context.Context, view *models.MessageView) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := viewKey{view.MessageID, view.ViewerID}
	if existing, ok := r.views[key]; ok {
		existing.ViewDuration += view.ViewDuration
		return false, nil
	}
	cp := *view
	r.views[key] = &cp
	return true, nil
}

func (r *ViewRepo) FirstViewAt(_ context.Context, messageID, senderID uuid.UUID) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first *time.Time
	for k, v := range r.views {
		if k.message != messageID || k.viewer == senderID {
			continue
		}
		if first == nil || v.ViewedAt.Before(*first) {
			t := v.ViewedAt
			first = &t
		}
	}
	return first, nil
}

func (r *ViewRepo) ListViewers(_ context.Context, messageID uuid.UUID) ([]*models.MessageView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MessageView
	for k, v := range r.views {
		if k.message == messageID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ViewedAt.Before(out[j].ViewedAt) })
	return out, nil
}
