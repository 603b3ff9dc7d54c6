package realtime

import (
	"context"
	"errors"
	"sync"
)

// MemoryTransport is an in-process broker with the same contract as the
// Redis adapter. Used by tests and by single-process deployments that
// run without Redis.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

var _ Transport = (*MemoryTransport)(nil)

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		subs: make(map[string]map[int]Handler),
	}
}

func (t *MemoryTransport) Publish(_ context.Context, topic string, event Event) error {
	event.Topic = topic

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return errors.New("realtime: transport closed")
	}
	handlers := make([]Handler, 0, len(t.subs[topic]))
	for _, h := range t.subs[topic] {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	// Delivered synchronously; handlers are expected to be cheap and
	// hand work off to their own goroutines/queues.
	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (t *MemoryTransport) Subscribe(topic string, handler Handler) (Unsubscribe, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("realtime: transport closed")
	}

	if t.subs[topic] == nil {
		t.subs[topic] = make(map[int]Handler)
	}
	id := t.nextID
	t.nextID++
	t.subs[topic][id] = handler

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs[topic], id)
			if len(t.subs[topic]) == 0 {
				delete(t.subs, topic)
			}
		})
	}
	return unsub, nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = make(map[string]map[int]Handler)
	return nil
}
