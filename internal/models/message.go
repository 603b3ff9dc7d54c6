package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindGif   MessageKind = "gif"
	KindFile  MessageKind = "file"
)

// Timer sentinels for Message.TimerDuration (seconds).
const (
	TimerNone     = 0  // message never expires
	TimerViewOnce = -1 // message expires on first view by a non-sender
)

// MediaRef is the opaque blob descriptor handed over by the upload
// collaborator. The core never dereferences the URL.
type MediaRef struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

type Message struct {
	ID            uuid.UUID   `json:"id"`
	RoomID        uuid.UUID   `json:"room_id"`
	SenderID      uuid.UUID   `json:"sender_id"`
	Content       string      `json:"content,omitempty"`
	Kind          MessageKind `json:"kind"`
	Media         *MediaRef   `json:"media,omitempty"`
	TimerDuration int         `json:"timer_duration"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	IsDeleted     bool        `json:"is_deleted"`
	ReplyToID     *uuid.UUID  `json:"reply_to_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	// Projections resolved at fetch time, never stored.
	SenderName   string   `json:"sender_name,omitempty"`
	ReplyPreview *Message `json:"reply_preview,omitempty"`
	SeenBy       int      `json:"seen_by,omitempty"`
}

// MessageView records that a viewer has seen a message. One logical
// row per (message, viewer); repeated views accumulate duration.
type MessageView struct {
	MessageID    uuid.UUID `json:"message_id"`
	ViewerID     uuid.UUID `json:"viewer_id"`
	ViewedAt     time.Time `json:"viewed_at"`
	ViewDuration int       `json:"view_duration"` // seconds, accumulated
}

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindGif, KindFile:
		return true
	}
	return false
}
