package repository

import (
	"context"
	"errors"
	"log"
	"time"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageViewRepository interface {
	// Record inserts the (message, viewer) view or, if one exists,
	// accumulates duration onto it. Returns true on first view.
	Record(ctx context.Context, view *models.MessageView) (bool, error)
	// FirstViewAt returns the earliest view timestamp by anyone other
	// than the sender, or nil if the message is unseen.
	FirstViewAt(ctx context.Context, messageID, senderID uuid.UUID) (*time.Time, error)
	ListViewers(ctx context.Context, messageID uuid.UUID) ([]*models.MessageView, error)
}

type PostgresViewRepo struct {
	pool *pgxpool.Pool
}

func NewViewRepo(pool *pgxpool.Pool) MessageViewRepository {
	return &PostgresViewRepo{
		pool: pool,
	}
}

func (r *PostgresViewRepo) Record(ctx context.Context, view *models.MessageView) (bool, error) {
	const insert = `
        INSERT INTO message_views (message_id, viewer_id, viewed_at, view_duration)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (message_id, viewer_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, insert,
		view.MessageID,
		view.ViewerID,
		view.ViewedAt,
		view.ViewDuration,
	)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to record view of %s by %s: %v", view.MessageID, view.ViewerID, err)
		return false, errs.Transient("record view", err)
	}

	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Repeat view: accumulate duration, keep the original viewed_at.
	const update = `
        UPDATE message_views
        SET view_duration = view_duration + $3
        WHERE message_id = $1 AND viewer_id = $2`

	if _, err := r.pool.Exec(ctx, update, view.MessageID, view.ViewerID, view.ViewDuration); err != nil {
		log.Printf("[REPO ERROR] Failed to accumulate view duration for %s/%s: %v", view.MessageID, view.ViewerID, err)
		return false, errs.Transient("accumulate view", err)
	}

	return false, nil
}

func (r *PostgresViewRepo) FirstViewAt(ctx context.Context, messageID, senderID uuid.UUID) (*time.Time, error) {
	const query = `
        SELECT viewed_at
        FROM message_views
        WHERE message_id = $1 AND viewer_id != $2
        ORDER BY viewed_at ASC
        LIMIT 1`

	var viewedAt time.Time
	err := r.pool.QueryRow(ctx, query, messageID, senderID).Scan(&viewedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Transient("first view", err)
	}

	return &viewedAt, nil
}

func (r *PostgresViewRepo) ListViewers(ctx context.Context, messageID uuid.UUID) ([]*models.MessageView, error) {
	const query = `
        SELECT message_id, viewer_id, viewed_at, view_duration
        FROM message_views
        WHERE message_id = $1
        ORDER BY viewed_at ASC`

	rows, err := r.pool.Query(ctx, query, messageID)
	if err != nil {
		return nil, errs.Transient("list viewers", err)
	}
	defer rows.Close()

	var views []*models.MessageView
	for rows.Next() {
		v := &models.MessageView{}
		if err := rows.Scan(&v.MessageID, &v.ViewerID, &v.ViewedAt, &v.ViewDuration); err != nil {
			return nil, errs.Transient("scan view", err)
		}
		views = append(views, v)
	}

	return views, nil
}
