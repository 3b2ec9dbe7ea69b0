package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, display_name, email, avatar_url, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		u.ID, u.DisplayName, u.Email, u.AvatarURL, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, display_name, COALESCE(email,''), COALESCE(avatar_url,''), created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &u.Email, &u.AvatarURL, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// DisplayName — точечное чтение имени для заголовка уведомления.
func (r *UserRepository) DisplayName(ctx context.Context, id string) (string, error) {
	defer logger.DeferLogDuration("user.DisplayName", time.Now())()
	var name string
	err := r.pool.QueryRow(ctx,
		`SELECT display_name FROM users WHERE id = $1`, id,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("userRepo.DisplayName: %w", err)
	}
	return name, nil
}
