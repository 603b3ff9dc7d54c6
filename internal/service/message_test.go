package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"
	"vanish-chat/internal/notify"
	"vanish-chat/internal/realtime"
	"vanish-chat/internal/repository"
	"vanish-chat/internal/repository/fakes"
	"vanish-chat/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []notify.RoomMessagePayload
}

func (n *recordingNotifier) MessageSent(_ context.Context, p notify.RoomMessagePayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, p)
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *eventRecorder) handle(e realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) byKind(kind realtime.EventKind) []realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []realtime.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	rooms     *fakes.RoomRepo
	members   *fakes.MemberRepo
	messages  *fakes.MessageRepo
	views     *fakes.ViewRepo
	transport *realtime.MemoryTransport
	notifier  *recordingNotifier
	svc       *service.MessageService
	roomSvc   *service.RoomService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rooms := fakes.NewRoomRepo()
	members := fakes.NewMemberRepo(rooms)
	messages := fakes.NewMessageRepo(rooms)
	views := fakes.NewViewRepo()
	transport := realtime.NewMemoryTransport()
	notifier := &recordingNotifier{}
	return &fixture{
		rooms:     rooms,
		members:   members,
		messages:  messages,
		views:     views,
		transport: transport,
		notifier:  notifier,
		svc:       service.NewMessageService(rooms, members, messages, views, transport, notifier),
		roomSvc:   service.NewRoomService(rooms, members, transport),
	}
}

func (f *fixture) makeRoom(t *testing.T, settings models.RoomSettings, memberIDs ...uuid.UUID) *models.Room {
	t.Helper()
	ctx := context.Background()
	room := &models.Room{ID: uuid.New(), Name: "test", Kind: models.RoomPrivate, CreatorID: uuid.New(), Settings: settings}
	require.NoError(t, f.rooms.Create(ctx, room))
	for _, id := range memberIDs {
		_, err := f.members.Join(ctx, room.ID, id, models.RoleMember)
		require.NoError(t, err)
	}
	return room
}

func (f *fixture) recordMessages(t *testing.T, roomID uuid.UUID) *eventRecorder {
	t.Helper()
	rec := &eventRecorder{}
	_, err := f.transport.Subscribe(realtime.TopicRoomMessages(roomID), rec.handle)
	require.NoError(t, err)
	return rec
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	sender := uuid.New()
	room := f.makeRoom(t, models.RoomSettings{}, sender)
	ctx := context.Background()

	cases := []struct {
		name string
		in   service.SendInput
	}{
		{"empty text", service.SendInput{RoomID: room.ID, SenderID: sender, Kind: models.KindText}},
		{"bad kind", service.SendInput{RoomID: room.ID, SenderID: sender, Kind: "video", Content: "x"}},
		{"media kind without media", service.SendInput{RoomID: room.ID, SenderID: sender, Kind: models.KindImage}},
		{"timer below sentinel", service.SendInput{RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "x", TimerDuration: -2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Send(ctx, tc.in)
			assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		})
	}
}

func TestSendComputesExpiry(t *testing.T) {
	f := newFixture(t)
	sender := uuid.New()
	room := f.makeRoom(t, models.RoomSettings{}, sender)
	ctx := context.Background()

	timed, err := f.svc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "5s fuse", TimerDuration: 5,
	})
	require.NoError(t, err)
	require.NotNil(t, timed.ExpiresAt)
	assert.Equal(t, timed.CreatedAt.Add(5*time.Second), *timed.ExpiresAt)

	viewOnce, err := f.svc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "once", TimerDuration: models.TimerViewOnce,
	})
	require.NoError(t, err)
	assert.Nil(t, viewOnce.ExpiresAt, "view-once gets no wall-clock expiry at send time")

	plain, err := f.svc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "forever",
	})
	require.NoError(t, err)
	assert.Nil(t, plain.ExpiresAt)
}

func TestSendMuteEnforcement(t *testing.T) {
	f := newFixture(t)
	sender := uuid.New()
	room := f.makeRoom(t, models.RoomSettings{}, sender)
	ctx := context.Background()

	in := service.SendInput{RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "hello"}

	until := time.Now().Add(time.Hour)
	require.NoError(t, f.members.SetMute(ctx, room.ID, sender, true, &until))

	_, err := f.svc.Send(ctx, in)
	assert.ErrorIs(t, err, errs.ErrForbidden, "muted member must not send")

	// mute lapsed: send succeeds without an explicit unmute
	past := time.Now().Add(-time.Minute)
	require.NoError(t, f.members.SetMute(ctx, room.ID, sender, true, &past))

	_, err = f.svc.Send(ctx, in)
	assert.NoError(t, err)
}

func TestSendNonMemberForbidden(t *testing.T) {
	f := newFixture(t)
	room := f.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	_, err := f.svc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: uuid.New(), Kind: models.KindText, Content: "hi",
	})
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestSendNotifiesOtherMembers(t *testing.T) {
	f := newFixture(t)
	sender, other := uuid.New(), uuid.New()
	room := f.makeRoom(t, models.RoomSettings{}, sender, other)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "ping",
	})
	require.NoError(t, err)

	require.Len(t, f.notifier.payloads, 1)
	assert.Equal(t, []uuid.UUID{other}, f.notifier.payloads[0].Recipients)
	assert.Equal(t, "ping", f.notifier.payloads[0].Preview)
}

func TestNotifyPreviewTruncatesOnRuneBoundary(t *testing.T) {
	f := newFixture(t)
	sender, other := uuid.New(), uuid.New()
	room := f.makeRoom(t, models.RoomSettings{}, sender, other)
	ctx := context.Background()

	// 100 three-byte runes: a byte-indexed cut would land mid-sequence
	_, err := f.svc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: strings.Repeat("界", 100),
	})
	require.NoError(t, err)

	require.Len(t, f.notifier.payloads, 1)
	got := f.notifier.payloads[0].Preview
	assert.True(t, utf8.ValidString(got), "preview must stay valid UTF-8")
	assert.Equal(t, strings.Repeat("界", 80)+"…", got)
}

func TestRecordViewIdempotentViewOnceExpiry(t *testing.T) {
	f := newFixture(t)
	sender, viewer := uuid.New(), uuid.New()
	room := f.makeRoom(t, models.RoomSettings{}, sender, viewer)
	ctx := context.Background()
	rec := f.recordMessages(t, room.ID)

	msg, err := f.svc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "secret", TimerDuration: models.TimerViewOnce,
	})
	require.NoError(t, err)

	// sender peeking at their own message never expires it
	require.NoError(t, f.svc.RecordView(ctx, msg.ID, sender, 1))
	assert.Empty(t, rec.byKind(realtime.EventDelete))

	// first non-sender view expires, exactly one tombstone
	require.NoError(t, f.svc.RecordView(ctx, msg.ID, viewer, 2))
	assert.Len(t, rec.byKind(realtime.EventDelete), 1)

	// duplicate view report: still one tombstone, no double expiry
	require.NoError(t, f.svc.RecordView(ctx, msg.ID, viewer, 3))
	assert.Len(t, rec.byKind(realtime.EventDelete), 1)

	stored, err := f.messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted, "view-once message is retired for everyone after first view")
}

func TestDeleteSenderOnlySoftDelete(t *testing.T) {
	f := newFixture(t)
	sender, other := uuid.New(), uuid.New()
	room := f.makeRoom(t, models.RoomSettings{}, sender, other)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "oops",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, msg.ID, other), errs.ErrForbidden)

	require.NoError(t, f.svc.Delete(ctx, msg.ID, sender))
	// idempotent re-delete
	require.NoError(t, f.svc.Delete(ctx, msg.ID, sender))

	// row survives for reply chains, but never appears in pages
	stored, err := f.messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)

	page, err := f.svc.LoadPage(ctx, room.ID, repository.PageCursor{}, 50)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestSweepExpiresDueMessagesOnce(t *testing.T) {
	f := newFixture(t)
	sender := uuid.New()
	room := f.makeRoom(t, models.RoomSettings{}, sender)
	ctx := context.Background()
	rec := f.recordMessages(t, room.ID)

	msg, err := f.svc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "fuse", TimerDuration: 5,
	})
	require.NoError(t, err)

	// before the deadline nothing happens
	n, err := f.svc.Sweep(ctx, msg.CreatedAt.Add(4*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.Sweep(ctx, msg.CreatedAt.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, rec.byKind(realtime.EventDelete), 1)

	// idempotent: a second sweep re-marks nothing
	n, err = f.svc.Sweep(ctx, msg.CreatedAt.Add(6*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, rec.byKind(realtime.EventDelete), 1)
}
