package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExpiredMessage identifies a row the sweep just retired, for event
// fan-out to subscribed sessions.
type ExpiredMessage struct {
	ID     uuid.UUID
	RoomID uuid.UUID
}

// PageCursor positions a history page strictly before (Before,
// BeforeID) in (created_at, id) order, so rows sharing a timestamp
// still paginate without gaps. The zero cursor means "newest page".
type PageCursor struct {
	Before   time.Time
	BeforeID uuid.UUID
}

type MessageRepository interface {
	Save(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	// FetchPage returns non-deleted, non-expired messages older than
	// the cursor, newest first, at most `limit` rows.
	FetchPage(ctx context.Context, roomID uuid.UUID, cursor PageCursor, limit int) ([]*models.Message, error)
	// MarkDeleted soft-deletes. Re-marking an already-deleted row is a
	// no-op; the bool reports whether this call did the marking.
	MarkDeleted(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkExpiredDue soft-deletes every live message whose expires_at
	// has passed and returns the rows it retired.
	MarkExpiredDue(ctx context.Context, now time.Time) ([]ExpiredMessage, error)
	// MarkRetentionDue soft-deletes live messages older than their
	// room's retention window.
	MarkRetentionDue(ctx context.Context, now time.Time) ([]ExpiredMessage, error)
}

type PostgresMessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) MessageRepository {
	return &PostgresMessageRepo{
		pool: pool,
	}
}

func (r *PostgresMessageRepo) Save(ctx context.Context, m *models.Message) error {
	const query = `
        INSERT INTO messages (id, room_id, sender_id, content, kind, media, timer_duration, expires_at, reply_to_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
        ON CONFLICT (id) DO NOTHING`

	var media []byte
	if m.Media != nil {
		var err error
		media, err = json.Marshal(m.Media)
		if err != nil {
			return fmt.Errorf("failed to encode media ref: %w", err)
		}
	}

	_, err := r.pool.Exec(ctx, query,
		m.ID,
		m.RoomID,
		m.SenderID,
		m.Content,
		m.Kind,
		media,
		m.TimerDuration,
		m.ExpiresAt,
		m.ReplyToID,
		m.CreatedAt,
	)

	if err != nil {
		log.Printf("[REPO ERROR] Failed to save message %s from %s: %v", m.ID, m.SenderID, err)
		return errs.Transient("save message", err)
	}

	return nil
}

const messageColumns = `
        m.id, m.room_id, m.sender_id, m.content, m.kind, m.media,
        m.timer_duration, m.expires_at, m.is_deleted, m.reply_to_id,
        m.created_at, m.updated_at,
        u.username,
        (SELECT count(*) FROM message_views v WHERE v.message_id = m.id)`

func scanMessage(row pgx.Row) (*models.Message, error) {
	m := &models.Message{}
	var media []byte
	var senderName *string
	err := row.Scan(
		&m.ID,
		&m.RoomID,
		&m.SenderID,
		&m.Content,
		&m.Kind,
		&media,
		&m.TimerDuration,
		&m.ExpiresAt,
		&m.IsDeleted,
		&m.ReplyToID,
		&m.CreatedAt,
		&m.UpdatedAt,
		&senderName,
		&m.SeenBy,
	)
	if err != nil {
		return nil, err
	}
	if len(media) > 0 {
		m.Media = &models.MediaRef{}
		if err := json.Unmarshal(media, m.Media); err != nil {
			return nil, fmt.Errorf("failed to decode media ref: %w", err)
		}
	}
	if senderName != nil {
		m.SenderName = *senderName
	}
	return m, nil
}

func (r *PostgresMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	query := `
        SELECT` + messageColumns + `
        FROM messages m
        LEFT JOIN users u ON u.id = m.sender_id
        WHERE m.id = $1`

	m, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("message %s", id)
		}
		log.Printf("[REPO ERROR] Failed to fetch message %s: %v", id, err)
		return nil, errs.Transient("get message", err)
	}

	return m, nil
}

func (r *PostgresMessageRepo) FetchPage(ctx context.Context, roomID uuid.UUID, cursor PageCursor, limit int) ([]*models.Message, error) {
	if cursor.Before.IsZero() {
		cursor.Before = time.Now()
	}

	// Row comparison keeps equal-timestamp neighbors paginating: with
	// the zero BeforeID it degenerates to created_at < Before.
	query := `
        SELECT` + messageColumns + `
        FROM messages m
        LEFT JOIN users u ON u.id = m.sender_id
        WHERE m.room_id = $1
          AND (m.created_at, m.id) < ($2, $3)
          AND m.is_deleted = false
          AND (m.expires_at IS NULL OR m.expires_at > $4)
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $5`

	now := time.Now()
	rows, err := r.pool.Query(ctx, query, roomID, cursor.Before, cursor.BeforeID, now, limit)
	if err != nil {
		log.Printf("[REPO ERROR] Fetch failed for room %s: %v", roomID, err)
		return nil, errs.Transient("fetch page", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			log.Printf("[REPO ERROR] Scan failed: %v", err)
			return nil, errs.Transient("scan message", err)
		}
		messages = append(messages, m)
	}

	if err := r.attachReplyPreviews(ctx, messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// attachReplyPreviews resolves the reply-to projection for a page.
// Deleted originals still resolve; the client renders a tombstone.
func (r *PostgresMessageRepo) attachReplyPreviews(ctx context.Context, messages []*models.Message) error {
	var ids []uuid.UUID
	for _, m := range messages {
		if m.ReplyToID != nil {
			ids = append(ids, *m.ReplyToID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	const query = `
        SELECT m.id, m.sender_id, m.content, m.kind, m.is_deleted, u.username
        FROM messages m
        LEFT JOIN users u ON u.id = m.sender_id
        WHERE m.id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return errs.Transient("fetch reply previews", err)
	}
	defer rows.Close()

	previews := make(map[uuid.UUID]*models.Message, len(ids))
	for rows.Next() {
		p := &models.Message{}
		var senderName *string
		if err := rows.Scan(&p.ID, &p.SenderID, &p.Content, &p.Kind, &p.IsDeleted, &senderName); err != nil {
			return errs.Transient("scan reply preview", err)
		}
		if senderName != nil {
			p.SenderName = *senderName
		}
		if p.IsDeleted {
			p.Content = ""
		}
		previews[p.ID] = p
	}

	for _, m := range messages {
		if m.ReplyToID != nil {
			m.ReplyPreview = previews[*m.ReplyToID]
		}
	}
	return nil
}

func (r *PostgresMessageRepo) MarkDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `
        UPDATE messages
        SET is_deleted = true, updated_at = now()
        WHERE id = $1 AND is_deleted = false`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to mark message %s deleted: %v", id, err)
		return false, errs.Transient("mark deleted", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PostgresMessageRepo) MarkExpiredDue(ctx context.Context, now time.Time) ([]ExpiredMessage, error) {
	const query = `
        UPDATE messages
        SET is_deleted = true, updated_at = $1
        WHERE expires_at <= $1 AND is_deleted = false
        RETURNING id, room_id`

	return r.collectExpired(ctx, query, now)
}

func (r *PostgresMessageRepo) MarkRetentionDue(ctx context.Context, now time.Time) ([]ExpiredMessage, error) {
	const query = `
        UPDATE messages m
        SET is_deleted = true, updated_at = $1
        FROM rooms r
        WHERE r.id = m.room_id
          AND m.is_deleted = false
          AND COALESCE((r.settings->>'retention_days')::int, 0) > 0
          AND m.created_at < $1 - make_interval(days => (r.settings->>'retention_days')::int)
        RETURNING m.id, m.room_id`

	return r.collectExpired(ctx, query, now)
}

func (r *PostgresMessageRepo) collectExpired(ctx context.Context, query string, now time.Time) ([]ExpiredMessage, error) {
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		log.Printf("[REPO ERROR] Expiry sweep query failed: %v", err)
		return nil, errs.Transient("expiry sweep", err)
	}
	defer rows.Close()

	var expired []ExpiredMessage
	for rows.Next() {
		var e ExpiredMessage
		if err := rows.Scan(&e.ID, &e.RoomID); err != nil {
			return nil, errs.Transient("scan expired", err)
		}
		expired = append(expired, e)
	}

	return expired, nil
}
