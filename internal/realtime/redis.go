package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport fans events out over Redis Pub/Sub so every server
// process sees every room's change stream.
type RedisTransport struct {
	rdb *redis.Client

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

var _ Transport = (*RedisTransport)(nil)

func NewRedisTransport(rdb *redis.Client) *RedisTransport {
	return &RedisTransport{
		rdb:  rdb,
		subs: make(map[*redis.PubSub]struct{}),
	}
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, event Event) error {
	event.Topic = topic
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return t.rdb.Publish(ctx, topic, raw).Err()
}

func (t *RedisTransport) Subscribe(topic string, handler Handler) (Unsubscribe, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, redis.ErrClosed
	}
	pubsub := t.rdb.Subscribe(context.Background(), topic)
	t.subs[pubsub] = struct{}{}
	t.mu.Unlock()

	// Force the SUBSCRIBE round-trip so a bad connection surfaces here
	// instead of as a silently dead stream.
	if _, err := pubsub.Receive(context.Background()); err != nil {
		t.drop(pubsub)
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("[TRANSPORT] Dropping malformed event on %s: %v", topic, err)
				continue
			}
			handler(event)
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			t.drop(pubsub)
		})
	}
	return unsub, nil
}

func (t *RedisTransport) drop(pubsub *redis.PubSub) {
	t.mu.Lock()
	delete(t.subs, pubsub)
	t.mu.Unlock()
	if err := pubsub.Close(); err != nil {
		log.Printf("[TRANSPORT] Error closing subscription: %v", err)
	}
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	subs := make([]*redis.PubSub, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.subs = make(map[*redis.PubSub]struct{})
	t.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	log.Printf("[TRANSPORT] Closed %d active subscriptions", len(subs))
	return nil
}
