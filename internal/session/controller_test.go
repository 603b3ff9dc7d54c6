package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"
	"vanish-chat/internal/presence"
	"vanish-chat/internal/realtime"
	"vanish-chat/internal/repository/fakes"
	"vanish-chat/internal/service"
	"vanish-chat/internal/session"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type world struct {
	rooms     *fakes.RoomRepo
	members   *fakes.MemberRepo
	messages  *fakes.MessageRepo
	views     *fakes.ViewRepo
	transport realtime.Transport
	coord     *presence.Coordinator
	msgSvc    *service.MessageService
	roomSvc   *service.RoomService
}

func newWorld(t *testing.T, transport realtime.Transport) *world {
	t.Helper()
	rooms := fakes.NewRoomRepo()
	members := fakes.NewMemberRepo(rooms)
	messages := fakes.NewMessageRepo(rooms)
	views := fakes.NewViewRepo()
	coord := presence.NewCoordinator(presence.NewMemoryStore(), members, transport, 10*time.Second)
	return &world{
		rooms:     rooms,
		members:   members,
		messages:  messages,
		views:     views,
		transport: transport,
		coord:     coord,
		msgSvc:    service.NewMessageService(rooms, members, messages, views, transport, nil),
		roomSvc:   service.NewRoomService(rooms, members, transport),
	}
}

func (w *world) makeRoom(t *testing.T, settings models.RoomSettings) *models.Room {
	t.Helper()
	room := &models.Room{ID: uuid.New(), Name: "r", Kind: models.RoomPrivate, CreatorID: uuid.New(), Settings: settings}
	require.NoError(t, w.rooms.Create(context.Background(), room))
	return room
}

func (w *world) controller(roomID, userID uuid.UUID, sink session.Sink) *session.Controller {
	return session.NewController(roomID, userID, w.roomSvc, w.msgSvc, w.coord, w.transport, 50, sink)
}

type updateLog struct {
	mu      sync.Mutex
	updates []session.Update
}

func (l *updateLog) sink(u session.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) count(kind session.UpdateKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, u := range l.updates {
		if u.Kind == kind {
			n++
		}
	}
	return n
}

func TestJoinLoadsInitialState(t *testing.T) {
	w := newWorld(t, realtime.NewMemoryTransport())
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	sender := uuid.New()
	_, err := w.roomSvc.Join(ctx, room.ID, sender)
	require.NoError(t, err)
	for _, text := range []string{"first", "second", "third"} {
		_, err := w.msgSvc.Send(ctx, service.SendInput{RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: text})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct created_at ordering
	}

	me := uuid.New()
	c := w.controller(room.ID, me, nil)
	require.NoError(t, c.Join(ctx))
	defer c.Leave(ctx, false)

	assert.Equal(t, session.StateActive, c.State())

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "third", msgs[2].Content)

	members := c.Members()
	assert.Len(t, members, 2) // sender + me
}

func TestDuplicateInsertEventsDedupedByID(t *testing.T) {
	transport := realtime.NewMemoryTransport()
	w := newWorld(t, transport)
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	c := w.controller(room.ID, uuid.New(), nil)
	require.NoError(t, c.Join(ctx))
	defer c.Leave(ctx, false)

	msg := models.Message{
		ID:        uuid.New(),
		RoomID:    room.ID,
		SenderID:  uuid.New(),
		Kind:      models.KindText,
		Content:   "once please",
		CreatedAt: time.Now(),
	}
	topic := realtime.TopicRoomMessages(room.ID)
	event, err := realtime.NewEvent(topic, realtime.EventInsert, msg)
	require.NoError(t, err)

	// at-least-once transport: same event delivered twice
	require.NoError(t, transport.Publish(ctx, topic, event))
	require.NoError(t, transport.Publish(ctx, topic, event))

	assert.Len(t, c.Messages(), 1)
}

func TestDeleteEventRemovesFromView(t *testing.T) {
	w := newWorld(t, realtime.NewMemoryTransport())
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	sender := uuid.New()
	_, err := w.roomSvc.Join(ctx, room.ID, sender)
	require.NoError(t, err)

	updates := &updateLog{}
	c := w.controller(room.ID, uuid.New(), updates.sink)
	require.NoError(t, c.Join(ctx))
	defer c.Leave(ctx, false)

	msg, err := w.msgSvc.Send(ctx, service.SendInput{RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "mistake"})
	require.NoError(t, err)
	require.Len(t, c.Messages(), 1)

	require.NoError(t, w.msgSvc.Delete(ctx, msg.ID, sender))

	assert.Empty(t, c.Messages())
	assert.Equal(t, 1, updates.count(session.UpdateMessageRemoved))

	// a session joining after the delete never sees the message
	late := w.controller(room.ID, uuid.New(), nil)
	require.NoError(t, late.Join(ctx))
	defer late.Leave(ctx, false)
	assert.Empty(t, late.Messages())
}

func TestLoadOlderNoDuplicatesOrdered(t *testing.T) {
	w := newWorld(t, realtime.NewMemoryTransport())
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	sender := uuid.New()
	_, err := w.roomSvc.Join(ctx, room.ID, sender)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := w.msgSvc.Send(ctx, service.SendInput{RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "m"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	c := session.NewController(room.ID, uuid.New(), w.roomSvc, w.msgSvc, w.coord, w.transport, 2, nil)
	require.NoError(t, c.Join(ctx))
	defer c.Leave(ctx, false)
	require.Len(t, c.Messages(), 2)

	added, err := c.LoadOlder(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, added, 2)
	require.Len(t, c.Messages(), 4)

	// pulling the same boundary again must not duplicate
	_, err = c.LoadOlder(ctx, 4)
	require.NoError(t, err)

	msgs := c.Messages()
	assert.Len(t, msgs, 6)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "view must stay ordered by created_at")
	}
	seen := make(map[uuid.UUID]bool)
	for _, m := range msgs {
		assert.False(t, seen[m.ID], "duplicate message %s in view", m.ID)
		seen[m.ID] = true
	}
}

func TestLoadOlderKeepsEqualTimestampNeighbors(t *testing.T) {
	w := newWorld(t, realtime.NewMemoryTransport())
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	// Two rows sharing a created_at, plus a newer one. Page size 1
	// forces the cursor through the tied boundary.
	sender := uuid.New()
	tied := time.Now().Add(-time.Minute)
	for i, at := range []time.Time{tied, tied, tied.Add(time.Second)} {
		m := &models.Message{
			ID: uuid.New(), RoomID: room.ID, SenderID: sender,
			Kind: models.KindText, Content: "m",
			CreatedAt: at, UpdatedAt: at,
		}
		require.NoError(t, w.messages.Save(ctx, m), "seed message %d", i)
	}

	c := session.NewController(room.ID, uuid.New(), w.roomSvc, w.msgSvc, w.coord, w.transport, 1, nil)
	require.NoError(t, c.Join(ctx))
	defer c.Leave(ctx, false)
	require.Len(t, c.Messages(), 1)

	for i := 0; i < 2; i++ {
		added, err := c.LoadOlder(ctx, 1)
		require.NoError(t, err)
		require.Len(t, added, 1, "page %d must surface the next tied row", i)
	}

	msgs := c.Messages()
	require.Len(t, msgs, 3, "rows sharing a timestamp must all paginate")

	added, err := c.LoadOlder(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestTypingExpiresLocallyWithoutEvents(t *testing.T) {
	transport := realtime.NewMemoryTransport()
	w := newWorld(t, transport)
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	c := w.controller(room.ID, uuid.New(), nil)
	require.NoError(t, c.Join(ctx))
	defer c.Leave(ctx, false)

	// a typist whose indicator lapses in well under the prune interval
	typist := uuid.New()
	ind := models.TypingIndicator{
		RoomID:    room.ID,
		UserID:    typist,
		StartedAt: time.Now(),
		ExpiresAt: time.Now().Add(300 * time.Millisecond),
	}
	topic := realtime.TopicRoomTyping(room.ID)
	event, err := realtime.NewEvent(topic, realtime.EventTyping, ind)
	require.NoError(t, err)
	require.NoError(t, transport.Publish(ctx, topic, event))

	require.Len(t, c.Typing(), 1)

	// no clear event ever arrives; the local TTL does the job
	assert.Eventually(t, func() bool {
		return len(c.Typing()) == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestTypingDuplicateEventsDedupedByUser(t *testing.T) {
	transport := realtime.NewMemoryTransport()
	w := newWorld(t, transport)
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	c := w.controller(room.ID, uuid.New(), nil)
	require.NoError(t, c.Join(ctx))
	defer c.Leave(ctx, false)

	typist := uuid.New()
	require.NoError(t, w.coord.SetTyping(ctx, room.ID, typist))
	require.NoError(t, w.coord.SetTyping(ctx, room.ID, typist))

	assert.Len(t, c.Typing(), 1)

	require.NoError(t, w.coord.ClearTyping(ctx, room.ID, typist))
	assert.Empty(t, c.Typing())
}

// flakyTransport fails the first N subscribe attempts, then delegates.
type flakyTransport struct {
	*realtime.MemoryTransport
	mu       sync.Mutex
	failures int
}

func (f *flakyTransport) Subscribe(topic string, handler realtime.Handler) (realtime.Unsubscribe, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.MemoryTransport.Subscribe(topic, handler)
}

func TestJoinResubscribesWithBackoff(t *testing.T) {
	transport := &flakyTransport{MemoryTransport: realtime.NewMemoryTransport(), failures: 2}
	w := newWorld(t, transport)
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	c := w.controller(room.ID, uuid.New(), nil)
	require.NoError(t, c.Join(ctx), "transient subscribe failures must be retried, not surfaced")
	defer c.Leave(ctx, false)
	assert.Equal(t, session.StateActive, c.State())
}

func TestJoinExhaustedRetryBudgetIsTransient(t *testing.T) {
	transport := &flakyTransport{MemoryTransport: realtime.NewMemoryTransport(), failures: 1000}
	w := newWorld(t, transport)
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	c := w.controller(room.ID, uuid.New(), nil)
	err := c.Join(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, session.StateDisconnected, c.State())
}

func TestExplicitLeaveRemovesMembershipTransientDoesNot(t *testing.T) {
	w := newWorld(t, realtime.NewMemoryTransport())
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	userA, userB := uuid.New(), uuid.New()

	a := w.controller(room.ID, userA, nil)
	require.NoError(t, a.Join(ctx))
	b := w.controller(room.ID, userB, nil)
	require.NoError(t, b.Join(ctx))

	// transient disconnect: membership row survives
	require.NoError(t, a.Leave(ctx, false))
	_, err := w.members.Get(ctx, room.ID, userA)
	assert.NoError(t, err)

	// explicit leave: membership removed
	require.NoError(t, b.Leave(ctx, true))
	_, err = w.members.Get(ctx, room.ID, userB)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// The end-to-end disappearing-message scenario: a capped room, a
// timed message, and a subscriber whose view drops it after expiry.
func TestCappedRoomTimedMessageScenario(t *testing.T) {
	w := newWorld(t, realtime.NewMemoryTransport())
	room := w.makeRoom(t, models.RoomSettings{MaxMembers: 2})
	ctx := context.Background()

	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	aliceSession := w.controller(room.ID, alice, nil)
	require.NoError(t, aliceSession.Join(ctx))
	defer aliceSession.Leave(ctx, false)

	bobSession := w.controller(room.ID, bob, nil)
	require.NoError(t, bobSession.Join(ctx))
	defer bobSession.Leave(ctx, false)

	carolSession := w.controller(room.ID, carol, nil)
	assert.ErrorIs(t, carolSession.Join(ctx), errs.ErrRoomFull)

	msg, err := w.msgSvc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: alice, Kind: models.KindText, Content: "gone in five", TimerDuration: 5,
	})
	require.NoError(t, err)

	require.Len(t, bobSession.Messages(), 1, "Bob sees the message while it lives")

	// the sweeper fires just past the deadline
	n, err := w.msgSvc.Sweep(ctx, msg.CreatedAt.Add(5*time.Second+time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, bobSession.Messages(), "Bob's active view drops the expired message")
	assert.Empty(t, aliceSession.Messages())
}

func TestLocalTimerExpiresMessageWithoutSweepEvent(t *testing.T) {
	w := newWorld(t, realtime.NewMemoryTransport())
	room := w.makeRoom(t, models.RoomSettings{})
	ctx := context.Background()

	sender := uuid.New()
	_, err := w.roomSvc.Join(ctx, room.ID, sender)
	require.NoError(t, err)

	c := w.controller(room.ID, uuid.New(), nil)
	require.NoError(t, c.Join(ctx))
	defer c.Leave(ctx, false)

	_, err = w.msgSvc.Send(ctx, service.SendInput{
		RoomID: room.ID, SenderID: sender, Kind: models.KindText, Content: "blink", TimerDuration: 1,
	})
	require.NoError(t, err)
	require.Len(t, c.Messages(), 1)

	// no sweep runs; the session's own armed check removes it
	assert.Eventually(t, func() bool {
		return len(c.Messages()) == 0
	}, 3*time.Second, 50*time.Millisecond)
}
