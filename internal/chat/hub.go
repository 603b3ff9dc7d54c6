package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"vanish-chat/internal/middleware"
	"vanish-chat/internal/presence"
	"vanish-chat/internal/service"
	"vanish-chat/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub tracks live websocket connections. One Client is one user on
// one room; the room fan-out itself happens over the realtime
// transport, so the hub's job is connection lifecycle only.
type Hub struct {
	Clients    map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	Quit       chan struct{}
}

type Client struct {
	Conn        *websocket.Conn
	Hub         *Hub
	Send        chan []byte
	Done        chan struct{}
	UserID      uuid.UUID
	Username    string
	RoomID      uuid.UUID
	Session     *session.Controller
	Messages    *service.MessageService
	Presence    *presence.Coordinator
	Limiter     *middleware.RateLimiter
	LastWarning time.Time
	once        sync.Once
}

func NewHub() *Hub {
	log.Println("[HUB] Initializing new Hub instance...")
	return &Hub{
		Clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Quit:       make(chan struct{}),
	}
}

func (h *Hub) cleanupClient(c *Client) {
	c.once.Do(func() {
		if _, ok := h.Clients[c]; ok {
			log.Printf("[HUB] Cleaning up resources for %s in room %s", c.Username, c.RoomID)
			delete(h.Clients, c)
		}

		// connection loss is a transient leave: membership survives
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Session.Leave(ctx, false); err != nil {
			log.Printf("[HUB] Session teardown for %s: %v", c.Username, err)
		}

		// Send is never closed: transport handler goroutines may still
		// be mid-flight in SinkUpdate. Done tells them and WritePump
		// to stand down instead.
		close(c.Done)
		c.Conn.Close()
		log.Printf("[HUB] Session closed for %s. Active clients remaining: %d", c.Username, len(h.Clients))
	})
}

func (h *Hub) Run() {
	log.Println("[HUB] Main loop started. Listening for events...")
	for {
		select {
		case <-h.Quit:
			log.Println("[HUB] Quit signal received. Shutting down all client connections...")
			for client := range h.Clients {
				h.cleanupClient(client)
			}
			return

		case client := <-h.Register:
			h.Clients[client] = struct{}{}
			log.Printf("[HUB] Registered %s on room %s. Total active: %d", client.Username, client.RoomID, len(h.Clients))

		case client := <-h.Unregister:
			log.Printf("[HUB] Unregistering client: %s", client.Username)
			h.cleanupClient(client)
		}
	}
}
