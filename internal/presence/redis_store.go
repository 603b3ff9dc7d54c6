package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vanish-chat/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	typingKeyPrefix = "typing:"      // typing:{roomID}:{userID} -> indicator JSON, TTL-bound
	typingSetPrefix = "typing:room:" // typing:room:{roomID} -> set of userIDs, pruned on read
)

type RedisStore struct {
	rdb *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func typingKey(roomID, userID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s", typingKeyPrefix, roomID, userID)
}

func typingSetKey(roomID uuid.UUID) string {
	return typingSetPrefix + roomID.String()
}

func (s *RedisStore) SetTyping(ctx context.Context, ind models.TypingIndicator, ttl time.Duration) error {
	data, err := json.Marshal(ind)
	if err != nil {
		return fmt.Errorf("failed to marshal typing indicator: %w", err)
	}

	if err := s.rdb.Set(ctx, typingKey(ind.RoomID, ind.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store typing indicator: %w", err)
	}

	setKey := typingSetKey(ind.RoomID)
	if err := s.rdb.SAdd(ctx, setKey, ind.UserID.String()).Err(); err != nil {
		return fmt.Errorf("failed to index typing indicator: %w", err)
	}
	// The index outlives individual indicators a little; stale entries
	// are pruned on read.
	s.rdb.Expire(ctx, setKey, 2*ttl)

	return nil
}

func (s *RedisStore) ClearTyping(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := s.rdb.Del(ctx, typingKey(roomID, userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear typing indicator: %w", err)
	}
	s.rdb.SRem(ctx, typingSetKey(roomID), userID.String())
	return nil
}

func (s *RedisStore) ListTyping(ctx context.Context, roomID uuid.UUID) ([]models.TypingIndicator, error) {
	setKey := typingSetKey(roomID)
	userIDs, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list typing index: %w", err)
	}

	var indicators []models.TypingIndicator
	for _, raw := range userIDs {
		userID, err := uuid.Parse(raw)
		if err != nil {
			s.rdb.SRem(ctx, setKey, raw)
			continue
		}

		data, err := s.rdb.Get(ctx, typingKey(roomID, userID)).Result()
		if err == redis.Nil {
			// Indicator lapsed by TTL, drop it from the index.
			s.rdb.SRem(ctx, setKey, raw)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to read typing indicator: %w", err)
		}

		var ind models.TypingIndicator
		if err := json.Unmarshal([]byte(data), &ind); err != nil {
			s.rdb.SRem(ctx, setKey, raw)
			continue
		}
		indicators = append(indicators, ind)
	}

	return indicators, nil
}
