package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRoomMessage(t *testing.T) {
	p := RoomMessagePayload{
		RoomID:     uuid.New(),
		MessageID:  uuid.New(),
		SenderID:   uuid.New(),
		Recipients: []uuid.UUID{uuid.New(), uuid.New()},
		Preview:    "hey",
	}
	payload, err := json.Marshal(p)
	require.NoError(t, err)

	task := asynq.NewTask(TaskRoomMessage, payload)
	assert.NoError(t, HandleRoomMessage(context.Background(), task))
}

func TestHandleRoomMessageMalformedPayloadSkipsRetry(t *testing.T) {
	task := asynq.NewTask(TaskRoomMessage, []byte("{not json"))

	err := HandleRoomMessage(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "retrying a malformed payload can never succeed")
}
