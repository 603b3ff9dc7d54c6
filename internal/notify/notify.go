// Package notify emits the "notify these recipients" side signal on
// message insert. Actual delivery (push, email) is another system's
// job; this package only hands the signal to a durable queue.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"vanish-chat/internal/hashing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskRoomMessage = "notify:room_message"

// The notify queue is split into shards; each room hashes onto one,
// so a busy room's backlog stays in its own lane.
var queueShards = []string{"notify-0", "notify-1", "notify-2"}

const ringReplicas = 50

// RoomMessagePayload is the queued signal. Preview is already
// truncated and safe to show on a lock screen.
type RoomMessagePayload struct {
	RoomID     uuid.UUID   `json:"room_id"`
	MessageID  uuid.UUID   `json:"message_id"`
	SenderID   uuid.UUID   `json:"sender_id"`
	Recipients []uuid.UUID `json:"recipients"`
	Preview    string      `json:"preview"`
}

// Enqueuer is what the message lifecycle depends on. Enqueue failures
// are logged by callers and never fail the send.
type Enqueuer interface {
	MessageSent(ctx context.Context, p RoomMessagePayload) error
}

type AsynqEnqueuer struct {
	client *asynq.Client
	ring   *hashing.Ring
}

var _ Enqueuer = (*AsynqEnqueuer)(nil)

func NewAsynqEnqueuer(redisURL string) (*AsynqEnqueuer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	return &AsynqEnqueuer{
		client: asynq.NewClient(opt),
		ring:   hashing.NewRing(ringReplicas, queueShards...),
	}, nil
}

func (e *AsynqEnqueuer) MessageSent(ctx context.Context, p RoomMessagePayload) error {
	if len(p.Recipients) == 0 {
		return nil
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}

	queue := e.ring.Get(p.RoomID.String())
	task := asynq.NewTask(TaskRoomMessage, payload)
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}

	log.Printf("[NOTIFY] Queued notification task %s on %s for message %s (%d recipients)", info.ID, queue, p.MessageID, len(p.Recipients))
	return nil
}

func (e *AsynqEnqueuer) Close() error {
	return e.client.Close()
}

// NewWorker builds the asynq server consuming the notify queue. The
// handler stops at the delivery handoff boundary.
func NewWorker(redisURL string) (*asynq.Server, *asynq.ServeMux, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("notify: parse redis url: %w", err)
	}

	queues := make(map[string]int, len(queueShards))
	for _, q := range queueShards {
		queues[q] = 1
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		Queues:      queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("[NOTIFY] Task %s failed: %v", task.Type(), err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRoomMessage, HandleRoomMessage)
	return srv, mux, nil
}

// HandleRoomMessage is where a push provider integration would plug
// in. For now the handoff is logged per recipient.
func HandleRoomMessage(ctx context.Context, task *asynq.Task) error {
	var p RoomMessagePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		// Malformed payloads can never succeed; do not retry.
		return fmt.Errorf("notify: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	for _, recipient := range p.Recipients {
		log.Printf("[NOTIFY] Delivering message %s preview to %s", p.MessageID, recipient)
	}
	return nil
}
