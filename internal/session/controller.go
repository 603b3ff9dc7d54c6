// Package session implements the per-client room session: one
// Controller per open room per connection. It merges durable-store
// change events, membership events and typing signals into a local
// view that is eventually consistent with the store.
package session

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"
	"vanish-chat/internal/presence"
	"vanish-chat/internal/realtime"
	"vanish-chat/internal/repository"
	"vanish-chat/internal/service"
	"vanish-chat/internal/timer"

	"github.com/google/uuid"
)

type State int32

const (
	StateDisconnected State = iota
	StateJoining
	StateActive
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	}
	return "unknown"
}

type UpdateKind string

const (
	UpdateMessageAdded   UpdateKind = "message_added"
	UpdateMessageRemoved UpdateKind = "message_removed"
	UpdateMemberJoined   UpdateKind = "member_joined"
	UpdateMemberLeft     UpdateKind = "member_left"
	UpdateMemberChanged  UpdateKind = "member_changed"
	UpdateTyping         UpdateKind = "typing"
	UpdateState          UpdateKind = "state"
)

// Update is what the controller pushes at the connected client.
type Update struct {
	Kind    UpdateKind               `json:"kind"`
	Message *models.Message          `json:"message,omitempty"`
	Member  *models.Member           `json:"member,omitempty"`
	Typing  []models.TypingIndicator `json:"typing,omitempty"`
	State   string                   `json:"state,omitempty"`
}

// Sink receives updates; it must not block for long.
type Sink func(Update)

const (
	subscribeRetries   = 5
	subscribeBaseDelay = 200 * time.Millisecond

	// Slack added to locally armed expiry checks so the authoritative
	// store timestamp always wins on the boundary.
	expirySlack = 50 * time.Millisecond

	typingPruneInterval = time.Second
)

type Controller struct {
	roomID uuid.UUID
	userID uuid.UUID

	rooms     *service.RoomService
	messages  *service.MessageService
	presence  *presence.Coordinator
	transport realtime.Transport
	pageSize  int
	sink      Sink

	mu       sync.Mutex
	state    State
	byID     map[uuid.UUID]*models.Message
	ordered  []*models.Message // ascending created_at
	members  map[uuid.UUID]*models.Member
	typing   map[uuid.UUID]models.TypingIndicator
	timers   map[uuid.UUID]*time.Timer
	unsubs   []realtime.Unsubscribe
	done     chan struct{}
}

func NewController(
	roomID, userID uuid.UUID,
	rooms *service.RoomService,
	messages *service.MessageService,
	pres *presence.Coordinator,
	transport realtime.Transport,
	pageSize int,
	sink Sink,
) *Controller {
	if sink == nil {
		sink = func(Update) {}
	}
	return &Controller{
		roomID:    roomID,
		userID:    userID,
		rooms:     rooms,
		messages:  messages,
		presence:  pres,
		transport: transport,
		pageSize:  pageSize,
		sink:      sink,
		state:     StateDisconnected,
		byID:      make(map[uuid.UUID]*models.Message),
		members:   make(map[uuid.UUID]*models.Member),
		typing:    make(map[uuid.UUID]models.TypingIndicator),
		timers:    make(map[uuid.UUID]*time.Timer),
	}
}

// Join takes the controller to active: ensures membership (RoomFull
// propagates), subscribes the three room streams, then loads the
// initial page. Subscribing first means no event gap; the merge path
// dedupes whatever arrives twice.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return errs.ErrConflict
	}
	c.state = StateJoining
	c.done = make(chan struct{})
	c.mu.Unlock()

	fail := func(err error) error {
		c.teardown()
		return err
	}

	if _, err := c.rooms.Join(ctx, c.roomID, c.userID); err != nil {
		return fail(err)
	}

	if err := c.subscribeAll(); err != nil {
		return fail(err)
	}

	page, err := c.messages.LoadPage(ctx, c.roomID, repository.PageCursor{}, c.pageSize)
	if err != nil {
		return fail(err)
	}
	members, err := c.rooms.Members(ctx, c.roomID)
	if err != nil {
		return fail(err)
	}
	indicators, err := c.presence.ListTyping(ctx, c.roomID, time.Now())
	if err != nil {
		// typing is best-effort; an empty set is a fine start
		log.Printf("[SESSION] Typing snapshot failed for room %s: %v", c.roomID, err)
	}

	c.mu.Lock()
	for i := len(page) - 1; i >= 0; i-- { // page is newest-first
		c.addMessageLocked(page[i])
	}
	for _, m := range members {
		c.members[m.UserID] = m
	}
	for _, ind := range indicators {
		c.typing[ind.UserID] = ind
	}
	c.state = StateActive
	c.mu.Unlock()

	if err := c.presence.SetOnline(ctx, c.userID, true); err != nil {
		log.Printf("[SESSION] Failed to flag %s online: %v", c.userID, err)
	}

	go c.pruneTypingLoop()

	c.sink(Update{Kind: UpdateState, State: StateActive.String()})
	log.Printf("[SESSION] %s active in room %s (%d messages, %d members)", c.userID, c.roomID, len(page), len(members))
	return nil
}

// Leave tears the session down. Only an explicit leave removes the
// membership row; a transient disconnect keeps it so the user is still
// a member when the connection comes back.
func (c *Controller) Leave(ctx context.Context, explicit bool) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateLeaving
	c.mu.Unlock()

	if explicit {
		if err := c.rooms.Leave(ctx, c.roomID, c.userID); err != nil {
			// membership unchanged: report and restore the session
			// rather than leaving a half-departed state visible
			c.mu.Lock()
			c.state = StateActive
			c.mu.Unlock()
			return err
		}
	}

	c.teardown()

	if err := c.presence.SetOnline(ctx, c.userID, false); err != nil {
		log.Printf("[SESSION] Failed to flag %s offline: %v", c.userID, err)
	}

	c.sink(Update{Kind: UpdateState, State: StateDisconnected.String()})
	log.Printf("[SESSION] %s left room %s (explicit=%v)", c.userID, c.roomID, explicit)
	return nil
}

// LoadOlder fetches the page before the oldest message currently in
// view. Already-present messages are never duplicated.
func (c *Controller) LoadOlder(ctx context.Context, pageSize int) ([]*models.Message, error) {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	c.mu.Lock()
	var cursor repository.PageCursor
	if len(c.ordered) > 0 {
		cursor = repository.PageCursor{
			Before:   c.ordered[0].CreatedAt,
			BeforeID: c.ordered[0].ID,
		}
	}
	c.mu.Unlock()

	page, err := c.messages.LoadPage(ctx, c.roomID, cursor, pageSize)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var added []*models.Message
	for i := len(page) - 1; i >= 0; i-- {
		if c.addMessageLocked(page[i]) {
			added = append(added, page[i])
		}
	}
	return added, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns the current view, ascending by created_at.
func (c *Controller) Messages() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Message, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *Controller) Members() []*models.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// Typing returns users currently typing, excluding entries whose TTL
// lapsed even if no fresh event said so.
func (c *Controller) Typing() []models.TypingIndicator {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.TypingIndicator
	for _, ind := range c.typing {
		if !ind.ExpiredAt(now) {
			out = append(out, ind)
		}
	}
	return out
}

// --- subscriptions ---

func (c *Controller) subscribeAll() error {
	topics := map[string]realtime.Handler{
		realtime.TopicRoomMessages(c.roomID): c.onMessageEvent,
		realtime.TopicRoomMembers(c.roomID):  c.onMemberEvent,
		realtime.TopicRoomTyping(c.roomID):   c.onTypingEvent,
	}

	for topic, handler := range topics {
		unsub, err := c.subscribeWithRetry(topic, handler)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.unsubs = append(c.unsubs, unsub)
		c.mu.Unlock()
	}
	return nil
}

// subscribeWithRetry retries with exponential backoff. A transport
// drop is not user-visible until the retry budget is spent; only then
// does the session downgrade to disconnected.
func (c *Controller) subscribeWithRetry(topic string, handler realtime.Handler) (realtime.Unsubscribe, error) {
	delay := subscribeBaseDelay
	var lastErr error
	for attempt := 0; attempt < subscribeRetries; attempt++ {
		unsub, err := c.transport.Subscribe(topic, handler)
		if err == nil {
			return unsub, nil
		}
		lastErr = err
		log.Printf("[SESSION] Subscribe %s failed (attempt %d/%d): %v", topic, attempt+1, subscribeRetries, err)
		time.Sleep(delay)
		delay *= 2
	}
	return nil, errs.Transient("subscribe "+topic, lastErr)
}

// --- event merge ---

func (c *Controller) onMessageEvent(e realtime.Event) {
	var msg models.Message
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		log.Printf("[SESSION] Dropping malformed message event: %v", err)
		return
	}

	switch {
	case e.Kind == realtime.EventInsert && !msg.IsDeleted:
		c.mu.Lock()
		added := c.addMessageLocked(&msg)
		c.mu.Unlock()
		if added {
			c.sink(Update{Kind: UpdateMessageAdded, Message: &msg})
		}
	default:
		// updates and deletes both remove: the only in-scope mutation
		// after send is soft-delete/expiry
		c.removeMessage(msg.ID)
	}
}

func (c *Controller) onMemberEvent(e realtime.Event) {
	var member models.Member
	if err := json.Unmarshal(e.Payload, &member); err != nil {
		log.Printf("[SESSION] Dropping malformed member event: %v", err)
		return
	}

	c.mu.Lock()
	_, known := c.members[member.UserID]
	switch e.Kind {
	case realtime.EventDelete:
		delete(c.members, member.UserID)
	default:
		c.members[member.UserID] = &member
	}
	c.mu.Unlock()

	switch {
	case e.Kind == realtime.EventDelete && known:
		c.sink(Update{Kind: UpdateMemberLeft, Member: &member})
	case e.Kind == realtime.EventInsert && !known:
		c.sink(Update{Kind: UpdateMemberJoined, Member: &member})
	case e.Kind == realtime.EventUpdate:
		c.sink(Update{Kind: UpdateMemberChanged, Member: &member})
	}
}

func (c *Controller) onTypingEvent(e realtime.Event) {
	var ind models.TypingIndicator
	if err := json.Unmarshal(e.Payload, &ind); err != nil {
		log.Printf("[SESSION] Dropping malformed typing event: %v", err)
		return
	}

	now := time.Now()
	c.mu.Lock()
	if ind.ExpiredAt(now) {
		delete(c.typing, ind.UserID)
	} else {
		c.typing[ind.UserID] = ind
	}
	c.mu.Unlock()

	c.sink(Update{Kind: UpdateTyping, Typing: c.Typing()})
}

// addMessageLocked inserts in created_at order, deduping by id.
// Arrival order is not display order: the store timestamp decides.
func (c *Controller) addMessageLocked(msg *models.Message) bool {
	if _, ok := c.byID[msg.ID]; ok {
		return false
	}
	if msg.IsDeleted {
		return false
	}
	if timer.Eval(msg.TimerDuration, msg.CreatedAt, nil, time.Now()) == timer.StateExpired {
		// expired before we ever showed it; don't surface a corpse
		return false
	}

	c.byID[msg.ID] = msg
	idx := sort.Search(len(c.ordered), func(i int) bool {
		return c.ordered[i].CreatedAt.After(msg.CreatedAt)
	})
	c.ordered = append(c.ordered, nil)
	copy(c.ordered[idx+1:], c.ordered[idx:])
	c.ordered[idx] = msg

	c.armTimerLocked(msg)
	return true
}

// armTimerLocked schedules a local expiry check for fixed-timer
// messages. The check is defensive: expiry events can be lost, but the
// message still vanishes on schedule.
func (c *Controller) armTimerLocked(msg *models.Message) {
	if msg.TimerDuration <= 0 || msg.ExpiresAt == nil {
		return
	}
	d := time.Until(*msg.ExpiresAt) + expirySlack
	if d < 0 {
		d = 0
	}
	id := msg.ID
	c.timers[id] = time.AfterFunc(d, func() {
		c.checkExpiry(id)
	})
}

func (c *Controller) checkExpiry(id uuid.UUID) {
	c.mu.Lock()
	msg, ok := c.byID[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	if timer.Eval(msg.TimerDuration, msg.CreatedAt, nil, time.Now()) == timer.StateExpired {
		c.removeMessage(id)
	}
}

func (c *Controller) removeMessage(id uuid.UUID) {
	c.mu.Lock()
	msg, ok := c.byID[id]
	if ok {
		delete(c.byID, id)
		for i, m := range c.ordered {
			if m.ID == id {
				c.ordered = append(c.ordered[:i], c.ordered[i+1:]...)
				break
			}
		}
		if t, armed := c.timers[id]; armed {
			t.Stop()
			delete(c.timers, id)
		}
	}
	c.mu.Unlock()

	if ok {
		c.sink(Update{Kind: UpdateMessageRemoved, Message: msg})
	}
}

// pruneTypingLoop locally expires typing entries on an interval:
// absence of a fresh event does not promptly imply absence of a
// typist, so the view must age entries out on its own.
func (c *Controller) pruneTypingLoop() {
	ticker := time.NewTicker(typingPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			changed := false
			for userID, ind := range c.typing {
				if ind.ExpiredAt(now) {
					delete(c.typing, userID)
					changed = true
				}
			}
			c.mu.Unlock()
			if changed {
				c.sink(Update{Kind: UpdateTyping, Typing: c.Typing()})
			}
		}
	}
}

// teardown stops timers and subscriptions and resets view state.
// No timer may survive the session: they hold references and would
// fire into a dead view.
func (c *Controller) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil

	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}

	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}

	c.byID = make(map[uuid.UUID]*models.Message)
	c.ordered = nil
	c.members = make(map[uuid.UUID]*models.Member)
	c.typing = make(map[uuid.UUID]models.TypingIndicator)
	c.state = StateDisconnected
}
