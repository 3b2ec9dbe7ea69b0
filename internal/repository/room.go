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

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func (r *RoomRepository) Create(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rooms (id, name, topic, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		room.ID, room.Name, room.Topic, room.CreatedBy, room.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Create: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	room := &model.Room{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(topic,''), created_by, created_at FROM rooms WHERE id = $1`, id,
	).Scan(&room.ID, &room.Name, &room.Topic, &room.CreatedBy, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) AddMember(ctx context.Context, m *model.RoomMember) error {
	defer logger.DeferLogDuration("room.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id, role, joined_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		m.RoomID, m.UserID, m.Role, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.AddMember: %w", err)
	}
	return nil
}

func (r *RoomRepository) RemoveMember(ctx context.Context, roomID, userID string) error {
	defer logger.DeferLogDuration("room.RemoveMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.RemoveMember: %w", err)
	}
	return nil
}

func (r *RoomRepository) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	defer logger.DeferLogDuration("room.IsMember", time.Now())()
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("roomRepo.IsMember: %w", err)
	}
	return ok, nil
}

// MemberIDs — участники комнаты (для fan-out пушей и системных сообщений).
func (r *RoomRepository) MemberIDs(ctx context.Context, roomID string) ([]string, error) {
	defer logger.DeferLogDuration("room.MemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM room_members WHERE room_id = $1`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.MemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("roomRepo.MemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RoomIDsOf — комнаты пользователя (множество членства диспетчера уведомлений;
// читается один раз на сессию, внутри сессии не обновляется).
func (r *RoomRepository) RoomIDsOf(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("room.RoomIDsOf", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT room_id FROM room_members WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.RoomIDsOf query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("roomRepo.RoomIDsOf scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
