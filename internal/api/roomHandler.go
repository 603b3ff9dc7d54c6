package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/middleware"
	"vanish-chat/internal/service"
	"vanish-chat/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// writeServiceError maps the service error taxonomy onto HTTP status
// codes. Transient failures surface as 503 so clients know to retry.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errs.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, errs.ErrRoomFull):
		http.Error(w, "Room is full", http.StatusConflict)
	case errors.Is(err, errs.ErrConflict):
		http.Error(w, "Conflict", http.StatusConflict)
	case errors.Is(err, errs.ErrTransient):
		http.Error(w, "Temporarily unavailable", http.StatusServiceUnavailable)
	default:
		log.Printf("[API] Unclassified error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func roomIDFrom(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["roomID"])
}

func CreateRoomHandler(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		var payload types.CreateRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		room, err := rooms.Create(dbctx, service.CreateRoomInput{
			Name:      payload.Name,
			Kind:      payload.Kind,
			CreatorID: user.ID,
			Settings:  payload.Settings,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(types.RoomDTO{
			ID:        room.ID,
			Name:      room.Name,
			Kind:      room.Kind,
			Settings:  room.Settings,
			CreatedAt: room.CreatedAt,
		})
	}
}

func JoinRoomHandler(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		roomID, err := roomIDFrom(r)
		if err != nil {
			http.Error(w, "Invalid room id", http.StatusBadRequest)
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		room, err := rooms.Join(dbctx, roomID, user.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.RoomDTO{
			ID:        room.ID,
			Name:      room.Name,
			Kind:      room.Kind,
			Settings:  room.Settings,
			CreatedAt: room.CreatedAt,
		})
	}
}

func LeaveRoomHandler(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		roomID, err := roomIDFrom(r)
		if err != nil {
			http.Error(w, "Invalid room id", http.StatusBadRequest)
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := rooms.Leave(dbctx, roomID, user.ID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ListMembersHandler(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := roomIDFrom(r)
		if err != nil {
			http.Error(w, "Invalid room id", http.StatusBadRequest)
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		members, err := rooms.Members(dbctx, roomID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		out := make([]types.MemberDTO, 0, len(members))
		for _, m := range members {
			out = append(out, types.MemberDTO{
				UserID:   m.UserID,
				Role:     m.Role,
				IsOnline: m.IsOnline,
				LastSeen: m.LastSeen,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func MuteMemberHandler(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		roomID, err := roomIDFrom(r)
		if err != nil {
			http.Error(w, "Invalid room id", http.StatusBadRequest)
			return
		}

		var payload types.MuteRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := rooms.Mute(dbctx, roomID, user.ID, payload.UserID, payload.Muted, payload.Until); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
