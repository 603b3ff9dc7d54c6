package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"
	"vanish-chat/internal/service"
	"vanish-chat/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Frame is the client wire protocol. Type selects the command; the
// rest of the fields are per-command.
type Frame struct {
	Type          string             `json:"type"`
	Content       string             `json:"content,omitempty"`
	Kind          models.MessageKind `json:"kind,omitempty"`
	TimerDuration int                `json:"timer_duration,omitempty"`
	Media         *models.MediaRef   `json:"media,omitempty"`
	ReplyToID     *uuid.UUID         `json:"reply_to_id,omitempty"`
	MessageID     uuid.UUID          `json:"message_id,omitempty"`
	ViewDuration  int                `json:"view_duration,omitempty"`
	PageSize      int                `json:"page_size,omitempty"`
}

const (
	FrameSend       = "send"
	FrameTyping     = "typing"
	FrameTypingStop = "typing_stop"
	FrameView       = "view"
	FrameDelete     = "delete"
	FrameLoadOlder  = "load_older"
)

type errorFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errs.ErrForbidden):
		return "forbidden"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrRoomFull):
		return "room_full"
	case errors.Is(err, errs.ErrConflict):
		return "conflict"
	case errors.Is(err, errs.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, errs.ErrTransient):
		return "transient"
	}
	return "internal"
}

// SinkUpdate is the session controller's sink: every view-state change
// becomes an outbound frame. A full buffer evicts the consumer rather
// than blocking the session. Done short-circuits sinks that race with
// cleanup; Send itself is never closed.
func (c *Client) SinkUpdate(u session.Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		log.Printf("[CLIENT] Marshal update for %s: %v", c.Username, err)
		return
	}
	select {
	case <-c.Done:
		return
	default:
	}
	select {
	case c.Send <- payload:
	default:
		log.Printf("[CLIENT] WARNING: %s buffer full. Evicting slow consumer.", c.Username)
		go c.unregister()
	}
}

func (c *Client) sendError(err error) {
	payload, merr := json.Marshal(errorFrame{Type: "error", Code: errorCode(err), Detail: err.Error()})
	if merr != nil {
		return
	}
	select {
	case <-c.Done:
	case c.Send <- payload:
	default:
	}
}

// unregister hands the client back to the hub, unless the hub already
// quit and nobody is draining Unregister.
func (c *Client) unregister() {
	select {
	case c.Hub.Unregister <- c:
	case <-c.Hub.Quit:
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(10 * time.Second)
	defer func() {
		ticker.Stop()
		c.unregister()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.Done:
			c.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.unregister()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[CLIENT] Unexpected close: %v", err)
			}
			break
		}

		if !c.Limiter.Allow() {
			if time.Since(c.LastWarning) > 3*time.Second {
				warning, _ := json.Marshal(errorFrame{
					Type: "error", Code: "rate_limited", Detail: "⚠️ Rate limit exceeded.",
				})
				select {
				case c.Send <- warning:
					c.LastWarning = time.Now()
				default:
				}
			}
			continue
		}

		frame := &Frame{}
		if err := json.Unmarshal(message, frame); err != nil {
			continue
		}

		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame *Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch frame.Type {
	case FrameSend:
		_, err = c.Messages.Send(ctx, sendInput(c, frame))

	case FrameTyping:
		err = c.Presence.SetTyping(ctx, c.RoomID, c.UserID)

	case FrameTypingStop:
		err = c.Presence.ClearTyping(ctx, c.RoomID, c.UserID)

	case FrameView:
		err = c.Messages.RecordView(ctx, frame.MessageID, c.UserID, frame.ViewDuration)

	case FrameDelete:
		err = c.Messages.Delete(ctx, frame.MessageID, c.UserID)

	case FrameLoadOlder:
		size := frame.PageSize
		if size <= 0 {
			size = 50
		}
		_, err = c.Session.LoadOlder(ctx, size)

	default:
		log.Printf("[CLIENT] %s sent unknown frame type %q", c.Username, frame.Type)
		return
	}

	if err != nil {
		log.Printf("[CLIENT] %s %s failed: %v", c.Username, frame.Type, err)
		c.sendError(err)
	}
}

func sendInput(c *Client, frame *Frame) service.SendInput {
	kind := frame.Kind
	if kind == "" {
		kind = models.KindText
	}
	return service.SendInput{
		RoomID:        c.RoomID,
		SenderID:      c.UserID,
		Content:       frame.Content,
		Kind:          kind,
		Media:         frame.Media,
		TimerDuration: frame.TimerDuration,
		ReplyToID:     frame.ReplyToID,
	}
}
