package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vanish-chat/internal/api"
	"vanish-chat/internal/auth"
	"vanish-chat/internal/chat"
	"vanish-chat/internal/config"
	"vanish-chat/internal/db"
	"vanish-chat/internal/middleware"
	"vanish-chat/internal/notify"
	"vanish-chat/internal/presence"
	"vanish-chat/internal/realtime"
	"vanish-chat/internal/repository"
	"vanish-chat/internal/service"
	"vanish-chat/internal/session"
	"vanish-chat/internal/tasks"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 512,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func serveWS(
	h *chat.Hub,
	rooms *service.RoomService,
	messages *service.MessageService,
	pres *presence.Coordinator,
	transport realtime.Transport,
	pageSize int,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		roomID, err := uuid.Parse(mux.Vars(r)["roomID"])
		if err != nil {
			http.Error(w, "Invalid room id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Upgrade error: %v", err)
			return
		}

		client := &chat.Client{
			Hub:      h,
			Conn:     conn,
			Send:     make(chan []byte, 256),
			Done:     make(chan struct{}),
			UserID:   user.ID,
			Username: user.Username,
			RoomID:   roomID,
			Messages: messages,
			Presence: pres,
			Limiter:  middleware.NewRateLimiter(5, 500*time.Millisecond),
		}
		client.Session = session.NewController(
			roomID, user.ID, rooms, messages, pres, transport, pageSize, client.SinkUpdate,
		)

		joinCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := client.Session.Join(joinCtx); err != nil {
			log.Printf("[WS] Join failed for %s on room %s: %v", user.Username, roomID, err)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join failed"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		}

		client.Hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}

func main() {
	cfg := config.Load()

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
		return
	}
	defer pool.Close()

	rdb, err := db.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
		return
	}
	defer rdb.Close()

	transport := realtime.NewRedisTransport(rdb)
	defer transport.Close()

	userRepo := repository.NewUserRepo(pool)
	roomRepo := repository.NewRoomRepo(pool)
	memberRepo := repository.NewMemberRepo(pool)
	messageRepo := repository.NewMessageRepo(pool)
	viewRepo := repository.NewViewRepo(pool)

	notifier, err := notify.NewAsynqEnqueuer(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to build notifier:", err)
		return
	}
	defer notifier.Close()

	pres := presence.NewCoordinator(presence.NewRedisStore(rdb), memberRepo, transport, cfg.TypingTTL)
	messageSvc := service.NewMessageService(roomRepo, memberRepo, messageRepo, viewRepo, transport, notifier)
	roomSvc := service.NewRoomService(roomRepo, memberRepo, transport)

	tokens := auth.NewManager(cfg.AuthKey)

	h := chat.NewHub()
	go h.Run()

	sweeper := tasks.NewSweeper(messageSvc, cfg.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	worker, workerMux, err := notify.NewWorker(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to build notify worker:", err)
		return
	}
	go func() {
		if err := worker.Run(workerMux); err != nil {
			log.Printf("[NOTIFY] Worker stopped: %v", err)
		}
	}()

	authed := middleware.Authenticate(tokens, userRepo)

	r := mux.NewRouter()
	r.HandleFunc("/api/register", api.SignupHandler(tokens, userRepo)).Methods(http.MethodPost)
	r.HandleFunc("/api/login", api.LoginHandler(tokens, userRepo)).Methods(http.MethodPost)
	r.HandleFunc("/api/logout", api.LogoutHandler()).Methods(http.MethodPost)

	r.Handle("/api/rooms", authed(api.CreateRoomHandler(roomSvc))).Methods(http.MethodPost)
	r.Handle("/api/rooms/{roomID}/join", authed(api.JoinRoomHandler(roomSvc))).Methods(http.MethodPost)
	r.Handle("/api/rooms/{roomID}/leave", authed(api.LeaveRoomHandler(roomSvc))).Methods(http.MethodPost)
	r.Handle("/api/rooms/{roomID}/members", authed(api.ListMembersHandler(roomSvc))).Methods(http.MethodGet)
	r.Handle("/api/rooms/{roomID}/mute", authed(api.MuteMemberHandler(roomSvc))).Methods(http.MethodPost)

	r.Handle("/ws/{roomID}", authed(serveWS(h, roomSvc, messageSvc, pres, transport, cfg.HistoryPage)))

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: r,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Printf("🚀 Server starting on %s...\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop

	fmt.Println("\nShutdown signal received. Cleaning up...")
	close(h.Quit)
	worker.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	fmt.Println("Graceful shutdown complete. Goodnight!")
}
