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

type MemberRepository interface {
	// Join creates the membership row if absent, enforcing the room's
	// max_members cap. Returns true when a new row was created, false
	// when the user was already a member.
	Join(ctx context.Context, roomID, userID uuid.UUID, role models.MemberRole) (bool, error)
	Leave(ctx context.Context, roomID, userID uuid.UUID) error
	Get(ctx context.Context, roomID, userID uuid.UUID) (*models.Member, error)
	List(ctx context.Context, roomID uuid.UUID) ([]*models.Member, error)
	Count(ctx context.Context, roomID uuid.UUID) (int, error)
	SetMute(ctx context.Context, roomID, userID uuid.UUID, muted bool, until *time.Time) error
	SetOnline(ctx context.Context, userID uuid.UUID, online bool, seenAt time.Time) error
}

type PostgresMemberRepo struct {
	pool *pgxpool.Pool
}

func NewMemberRepo(pool *pgxpool.Pool) MemberRepository {
	return &PostgresMemberRepo{
		pool: pool,
	}
}

func (r *PostgresMemberRepo) Join(ctx context.Context, roomID, userID uuid.UUID, role models.MemberRole) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, errs.Transient("join: begin", err)
	}
	defer tx.Rollback(ctx)

	// Lock the room row so concurrent joins serialize on the cap check.
	var maxMembers int
	err = tx.QueryRow(ctx, `
        SELECT COALESCE((settings->>'max_members')::int, 0)
        FROM rooms
        WHERE id = $1 AND is_active = true
        FOR UPDATE`, roomID).Scan(&maxMembers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, errs.NotFound("room %s", roomID)
		}
		return false, errs.Transient("join: lock room", err)
	}

	if maxMembers > 0 {
		var count int
		var already bool
		err = tx.QueryRow(ctx, `
            SELECT count(*),
                   COALESCE(bool_or(user_id = $2), false)
            FROM members
            WHERE room_id = $1`, roomID, userID).Scan(&count, &already)
		if err != nil {
			return false, errs.Transient("join: count members", err)
		}
		if !already && count >= maxMembers {
			log.Printf("[REPO] Join rejected for %s: room %s at capacity (%d)", userID, roomID, maxMembers)
			return false, errs.ErrRoomFull
		}
	}

	tag, err := tx.Exec(ctx, `
        INSERT INTO members (room_id, user_id, role)
        VALUES ($1, $2, $3)
        ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID, role)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to join room %s for %s: %v", roomID, userID, err)
		return false, errs.Transient("join: insert member", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errs.Transient("join: commit", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PostgresMemberRepo) Leave(ctx context.Context, roomID, userID uuid.UUID) error {
	const query = `DELETE FROM members WHERE room_id = $1 AND user_id = $2`

	tag, err := r.pool.Exec(ctx, query, roomID, userID)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to leave room %s for %s: %v", roomID, userID, err)
		return errs.Transient("leave room", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("member %s in room %s", userID, roomID)
	}

	return nil
}

func (r *PostgresMemberRepo) Get(ctx context.Context, roomID, userID uuid.UUID) (*models.Member, error) {
	const query = `
        SELECT room_id, user_id, role, joined_at, is_muted, mute_expires_at, is_online, last_seen
        FROM members
        WHERE room_id = $1 AND user_id = $2`

	m := &models.Member{}
	err := r.pool.QueryRow(ctx, query, roomID, userID).Scan(
		&m.RoomID,
		&m.UserID,
		&m.Role,
		&m.JoinedAt,
		&m.IsMuted,
		&m.MuteExpiresAt,
		&m.IsOnline,
		&m.LastSeen,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("member %s in room %s", userID, roomID)
		}
		return nil, errs.Transient("get member", err)
	}

	return m, nil
}

func (r *PostgresMemberRepo) List(ctx context.Context, roomID uuid.UUID) ([]*models.Member, error) {
	const query = `
        SELECT room_id, user_id, role, joined_at, is_muted, mute_expires_at, is_online, last_seen
        FROM members
        WHERE room_id = $1
        ORDER BY joined_at ASC`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to list members for room %s: %v", roomID, err)
		return nil, errs.Transient("list members", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		m := &models.Member{}
		err := rows.Scan(
			&m.RoomID,
			&m.UserID,
			&m.Role,
			&m.JoinedAt,
			&m.IsMuted,
			&m.MuteExpiresAt,
			&m.IsOnline,
			&m.LastSeen,
		)
		if err != nil {
			return nil, errs.Transient("scan member", err)
		}
		members = append(members, m)
	}

	return members, nil
}

func (r *PostgresMemberRepo) Count(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM members WHERE room_id = $1`, roomID).Scan(&count)
	if err != nil {
		return 0, errs.Transient("count members", err)
	}
	return count, nil
}

func (r *PostgresMemberRepo) SetMute(ctx context.Context, roomID, userID uuid.UUID, muted bool, until *time.Time) error {
	const query = `
        UPDATE members
        SET is_muted = $3, mute_expires_at = $4
        WHERE room_id = $1 AND user_id = $2`

	tag, err := r.pool.Exec(ctx, query, roomID, userID, muted, until)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to set mute for %s in room %s: %v", userID, roomID, err)
		return errs.Transient("set mute", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("member %s in room %s", userID, roomID)
	}

	return nil
}

// SetOnline is last-writer-wins on the flag, but last_seen only ever
// moves forward so out-of-order updates cannot rewind it.
func (r *PostgresMemberRepo) SetOnline(ctx context.Context, userID uuid.UUID, online bool, seenAt time.Time) error {
	const query = `
        UPDATE members
        SET is_online = $2, last_seen = GREATEST(last_seen, $3)
        WHERE user_id = $1`

	_, err := r.pool.Exec(ctx, query, userID, online, seenAt)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to set online state for %s: %v", userID, err)
		return errs.Transient("set online", err)
	}

	return nil
}
