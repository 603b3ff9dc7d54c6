package presence

import (
	"context"
	"sync"
	"time"

	"vanish-chat/internal/models"

	"github.com/google/uuid"
)

// MemoryStore mirrors the Redis store for tests and redis-less runs.
// Expired entries are filtered on read, same as the TTL semantics.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]map[uuid.UUID]models.TypingIndicator
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[uuid.UUID]map[uuid.UUID]models.TypingIndicator),
	}
}

func (s *MemoryStore) SetTyping(_ context.Context, ind models.TypingIndicator, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[ind.RoomID] == nil {
		s.byID[ind.RoomID] = make(map[uuid.UUID]models.TypingIndicator)
	}
	s.byID[ind.RoomID][ind.UserID] = ind
	return nil
}

func (s *MemoryStore) ClearTyping(_ context.Context, roomID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID[roomID], userID)
	return nil
}

func (s *MemoryStore) ListTyping(_ context.Context, roomID uuid.UUID) ([]models.TypingIndicator, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.TypingIndicator
	for userID, ind := range s.byID[roomID] {
		if ind.ExpiredAt(now) {
			delete(s.byID[roomID], userID)
			continue
		}
		out = append(out, ind)
	}
	return out, nil
}
