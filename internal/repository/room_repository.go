package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type PostgresRoomRepo struct {
	pool *pgxpool.Pool
}

func NewRoomRepo(pool *pgxpool.Pool) RoomRepository {
	return &PostgresRoomRepo{
		pool: pool,
	}
}

func (r *PostgresRoomRepo) Create(ctx context.Context, room *models.Room) error {
	const query = `
        INSERT INTO rooms (id, name, kind, creator_id, settings, is_active)
        VALUES ($1, $2, $3, $4, $5, true)
        RETURNING created_at`

	settings, err := json.Marshal(room.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode room settings: %w", err)
	}

	err = r.pool.QueryRow(ctx, query,
		room.ID,
		room.Name,
		room.Kind,
		room.CreatorID,
		settings,
	).Scan(&room.CreatedAt)

	if err != nil {
		log.Printf("[REPO ERROR] Failed to create room %s: %v", room.ID, err)
		return errs.Transient("create room", err)
	}

	room.IsActive = true
	return nil
}

func (r *PostgresRoomRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	const query = `
        SELECT id, name, kind, creator_id, settings, is_active, created_at
        FROM rooms
        WHERE id = $1`

	room := &models.Room{}
	var settings []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&room.Kind,
		&room.CreatorID,
		&settings,
		&room.IsActive,
		&room.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("room %s", id)
		}
		log.Printf("[REPO ERROR] Failed to fetch room %s: %v", id, err)
		return nil, errs.Transient("get room", err)
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &room.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode room settings: %w", err)
		}
	}

	return room, nil
}

func (r *PostgresRoomRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE rooms SET is_active = false WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to deactivate room %s: %v", id, err)
		return errs.Transient("deactivate room", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("room %s", id)
	}

	return nil
}
