package service_test

import (
	"context"
	"testing"
	"time"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"
	"vanish-chat/internal/realtime"
	"vanish-chat/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoomSeatsCreatorAsAdmin(t *testing.T) {
	f := newFixture(t)
	creator := uuid.New()
	ctx := context.Background()

	room, err := f.roomSvc.Create(ctx, service.CreateRoomInput{
		Name: "lounge", Kind: models.RoomPublic, CreatorID: creator,
	})
	require.NoError(t, err)

	member, err := f.members.Get(ctx, room.ID, creator)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, member.Role)
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.roomSvc.Create(ctx, service.CreateRoomInput{Name: "", Kind: models.RoomPublic, CreatorID: uuid.New()})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = f.roomSvc.Create(ctx, service.CreateRoomInput{Name: "x", Kind: "secret", CreatorID: uuid.New()})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestJoinRoomFullThenLeaveFreesOneSeat(t *testing.T) {
	f := newFixture(t)
	room := f.makeRoom(t, models.RoomSettings{MaxMembers: 2})
	ctx := context.Background()

	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	_, err := f.roomSvc.Join(ctx, room.ID, alice)
	require.NoError(t, err)
	_, err = f.roomSvc.Join(ctx, room.ID, bob)
	require.NoError(t, err)

	_, err = f.roomSvc.Join(ctx, room.ID, carol)
	assert.ErrorIs(t, err, errs.ErrRoomFull)

	// re-join by an existing member is idempotent, not a capacity hit
	_, err = f.roomSvc.Join(ctx, room.ID, alice)
	assert.NoError(t, err)

	require.NoError(t, f.roomSvc.Leave(ctx, room.ID, alice))

	// exactly one seat opened
	_, err = f.roomSvc.Join(ctx, room.ID, carol)
	assert.NoError(t, err)
	_, err = f.roomSvc.Join(ctx, room.ID, uuid.New())
	assert.ErrorIs(t, err, errs.ErrRoomFull)
}

func TestJoinPublishesMemberEvent(t *testing.T) {
	f := newFixture(t)
	room := f.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	rec := &eventRecorder{}
	_, err := f.transport.Subscribe(realtime.TopicRoomMembers(room.ID), rec.handle)
	require.NoError(t, err)

	user := uuid.New()
	_, err = f.roomSvc.Join(ctx, room.ID, user)
	require.NoError(t, err)
	assert.Len(t, rec.byKind(realtime.EventInsert), 1)

	// idempotent re-join announces nothing new
	_, err = f.roomSvc.Join(ctx, room.ID, user)
	require.NoError(t, err)
	assert.Len(t, rec.byKind(realtime.EventInsert), 1)

	require.NoError(t, f.roomSvc.Leave(ctx, room.ID, user))
	assert.Len(t, rec.byKind(realtime.EventDelete), 1)
}

func TestJoinInactiveRoomForbidden(t *testing.T) {
	f := newFixture(t)
	room := f.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	require.NoError(t, f.rooms.Deactivate(ctx, room.ID))

	_, err := f.roomSvc.Join(ctx, room.ID, uuid.New())
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestMuteRequiresModerator(t *testing.T) {
	f := newFixture(t)
	mod, member, other := uuid.New(), uuid.New(), uuid.New()
	room := f.makeRoom(t, models.RoomSettings{}, member, other)
	ctx := context.Background()

	_, err := f.members.Join(ctx, room.ID, mod, models.RoleModerator)
	require.NoError(t, err)

	until := time.Now().Add(time.Hour)

	// plain member cannot moderate
	err = f.roomSvc.Mute(ctx, room.ID, member, other, true, &until)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	require.NoError(t, f.roomSvc.Mute(ctx, room.ID, mod, other, true, &until))

	muted, err := f.members.Get(ctx, room.ID, other)
	require.NoError(t, err)
	assert.True(t, muted.MutedAt(time.Now()))
}

func TestAdminCannotBeMuted(t *testing.T) {
	f := newFixture(t)
	creator := uuid.New()
	ctx := context.Background()

	room, err := f.roomSvc.Create(ctx, service.CreateRoomInput{
		Name: "hq", Kind: models.RoomPrivate, CreatorID: creator,
	})
	require.NoError(t, err)

	mod := uuid.New()
	_, err = f.members.Join(ctx, room.ID, mod, models.RoleModerator)
	require.NoError(t, err)

	err = f.roomSvc.Mute(ctx, room.ID, mod, creator, true, nil)
	assert.ErrorIs(t, err, errs.ErrForbidden)
}
