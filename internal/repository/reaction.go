package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// ToggleMessage atomically toggles a (message, user, emoji) reaction.
// The conditional insert decides add-vs-remove in one statement, so two rapid
// toggles cannot both insert; the unique index is the final backstop.
// Returns true when the reaction was added, false when removed.
func (r *ReactionRepository) ToggleMessage(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	defer logger.DeferLogDuration("reaction.ToggleMessage", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		messageID, userID, emoji, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("reactionRepo.ToggleMessage insert: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	); err != nil {
		return false, fmt.Errorf("reactionRepo.ToggleMessage delete: %w", err)
	}
	return false, nil
}

// ToggleThreadMessage — то же для сообщений треда.
func (r *ReactionRepository) ToggleThreadMessage(ctx context.Context, threadMessageID, userID, emoji string) (bool, error) {
	defer logger.DeferLogDuration("reaction.ToggleThreadMessage", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO reactions (thread_message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		threadMessageID, userID, emoji, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("reactionRepo.ToggleThreadMessage insert: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM reactions WHERE thread_message_id = $1 AND user_id = $2 AND emoji = $3`,
		threadMessageID, userID, emoji,
	); err != nil {
		return false, fmt.Errorf("reactionRepo.ToggleThreadMessage delete: %w", err)
	}
	return false, nil
}

// ListByMessage возвращает плоский набор реакций сообщения в порядке создания.
// Агрегация по emoji — reactions.Group.
func (r *ReactionRepository) ListByMessage(ctx context.Context, messageID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByMessage", time.Now())()
	return r.list(ctx, `message_id = $1`, messageID)
}

func (r *ReactionRepository) ListByThreadMessage(ctx context.Context, threadMessageID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByThreadMessage", time.Now())()
	return r.list(ctx, `thread_message_id = $1`, threadMessageID)
}

func (r *ReactionRepository) list(ctx context.Context, where string, arg any) ([]model.Reaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, thread_message_id, user_id, emoji, created_at
		 FROM reactions WHERE `+where+` ORDER BY created_at`, arg,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.list query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 8)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.ThreadMessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.list scan: %w", err)
		}
		reactions = append(reactions, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.list rows: %w", err)
	}
	return reactions, nil
}

// ListByThreadMessages грузит реакции всех ответов треда одним запросом.
func (r *ReactionRepository) ListByThreadMessages(ctx context.Context, threadMessageIDs []string) (map[string][]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByThreadMessages", time.Now())()
	if len(threadMessageIDs) == 0 {
		return map[string][]model.Reaction{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, thread_message_id, user_id, emoji, created_at
		 FROM reactions WHERE thread_message_id = ANY($1) ORDER BY created_at`, threadMessageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByThreadMessages query: %w", err)
	}
	defer rows.Close()

	byMsg := make(map[string][]model.Reaction, len(threadMessageIDs))
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.ThreadMessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.ListByThreadMessages scan: %w", err)
		}
		if rc.ThreadMessageID != nil {
			byMsg[*rc.ThreadMessageID] = append(byMsg[*rc.ThreadMessageID], rc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByThreadMessages rows: %w", err)
	}
	return byMsg, nil
}

// ListByMessages грузит реакции страницы сообщений одним запросом.
func (r *ReactionRepository) ListByMessages(ctx context.Context, messageIDs []string) (map[string][]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByMessages", time.Now())()
	if len(messageIDs) == 0 {
		return map[string][]model.Reaction{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, thread_message_id, user_id, emoji, created_at
		 FROM reactions WHERE message_id = ANY($1) ORDER BY created_at`, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByMessages query: %w", err)
	}
	defer rows.Close()

	byMsg := make(map[string][]model.Reaction, len(messageIDs))
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.ThreadMessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.ListByMessages scan: %w", err)
		}
		if rc.MessageID != nil {
			byMsg[*rc.MessageID] = append(byMsg[*rc.MessageID], rc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByMessages rows: %w", err)
	}
	return byMsg, nil
}
