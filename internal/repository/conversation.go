package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// GetOrCreate возвращает переписку пары участников, создавая её при отсутствии.
// Пара нормализуется; вставка условная (ON CONFLICT DO NOTHING), проигравший
// гонку создания перечитывает существующую строку.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetOrCreate", time.Now())()
	a, b := model.NormalizePair(userA, userB)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, participant_a, participant_b, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (participant_a, participant_b) DO NOTHING`,
		uuid.New().String(), a, b, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetOrCreate insert: %w", err)
	}
	return r.getByPair(ctx, a, b)
}

func (r *ConversationRepository) getByPair(ctx context.Context, a, b string) (*model.Conversation, error) {
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, participant_a, participant_b, last_message_at, created_at
		 FROM conversations WHERE participant_a = $1 AND participant_b = $2`, a, b,
	).Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.getByPair: %w", err)
	}
	return c, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, participant_a, participant_b, last_message_at, created_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// ListFor возвращает переписки пользователя, свежие сверху (по last_message_at).
func (r *ConversationRepository) ListFor(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListFor", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, participant_a, participant_b, last_message_at, created_at
		 FROM conversations
		 WHERE participant_a = $1 OR participant_b = $1
		 ORDER BY last_message_at DESC NULLS LAST, created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListFor query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("convRepo.ListFor scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListFor rows: %w", err)
	}
	return convs, nil
}

// IDsFor возвращает id переписок пользователя (для членства диспетчера уведомлений).
func (r *ConversationRepository) IDsFor(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.IDsFor", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM conversations WHERE participant_a = $1 OR participant_b = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.IDsFor query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.IDsFor scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ParticipantIDs — оба участника переписки (аналог MemberIDs комнаты для fan-out).
func (r *ConversationRepository) ParticipantIDs(ctx context.Context, id string) ([]string, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return []string{c.ParticipantA, c.ParticipantB}, nil
}
