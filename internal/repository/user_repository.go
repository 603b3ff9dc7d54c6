package repository

import (
	"context"
	"errors"

	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &PostgresUserRepo{
		pool: pool,
	}
}

func (r *PostgresUserRepo) CreateUser(ctx context.Context, user *models.User) error {
	const query = `
        INSERT INTO users (id, username, email, password_hash, is_anonymous)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.Password_Hash,
		user.IsAnonymous,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return errs.Transient("create user", err)
	}

	return nil
}

func (r *PostgresUserRepo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	const query = `
        SELECT id, username, email, password_hash, is_anonymous, is_banned, created_at, updated_at
        FROM users
        WHERE username = $1`

	return r.scanUser(r.pool.QueryRow(ctx, query, username))
}

func (r *PostgresUserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const query = `
        SELECT id, username, email, password_hash, is_anonymous, is_banned, created_at, updated_at
        FROM users
        WHERE id = $1`

	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresUserRepo) scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Password_Hash,
		&user.IsAnonymous,
		&user.IsBanned,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("user")
		}
		return nil, errs.Transient("get user", err)
	}

	return user, nil
}
